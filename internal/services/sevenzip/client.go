package sevenzip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entry describes a single archive member as reported by 7z.
type Entry struct {
	Path  string
	Size  int64
	IsDir bool
}

// Lister enumerates archive members without unpacking them.
type Lister interface {
	List(ctx context.Context, archivePath string) ([]Entry, error)
}

// Extractor unpacks an archive into a destination directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps 7-Zip CLI interactions for formats the standard library
// cannot read natively.
type Client struct {
	binary  string
	timeout time.Duration
	exec    Executor
}

// New constructs a 7-Zip client.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("7z binary required")
	}
	client := &Client{
		binary:  binary,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// List runs "7z l -slt -ba" and parses the technical listing. Sizes are the
// declared uncompressed sizes, which callers check against unpack ceilings
// before any extraction happens.
func (c *Client) List(ctx context.Context, archivePath string) ([]Entry, error) {
	if archivePath == "" {
		return nil, errors.New("archive path required")
	}
	runCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	var lines []string
	args := []string{"l", "-slt", "-ba", archivePath}
	if err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		lines = append(lines, line)
	}); err != nil {
		return nil, fmt.Errorf("7z list %s: %w", archivePath, err)
	}
	return parseListing(lines), nil
}

// Extract runs "7z x" into destDir, creating it first.
func (c *Client) Extract(ctx context.Context, archivePath, destDir string) error {
	if archivePath == "" {
		return errors.New("archive path required")
	}
	if destDir == "" {
		return errors.New("destination directory required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	runCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	args := []string{"x", "-y", "-o" + destDir, archivePath}
	if err := c.exec.Run(runCtx, c.binary, args, nil); err != nil {
		return fmt.Errorf("7z extract %s: %w", archivePath, err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// parseListing consumes the -slt block format: one "Key = Value" line per
// attribute, blank line between entries.
func parseListing(lines []string) []Entry {
	var entries []Entry
	var current Entry
	var open bool

	flush := func() {
		if open && current.Path != "" {
			entries = append(entries, current)
		}
		current = Entry{}
		open = false
	}

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, found := strings.Cut(line, " = ")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Path":
			current.Path = value
			open = true
		case "Size":
			if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				current.Size = n
			}
		case "Attributes", "Folder":
			if strings.Contains(value, "D") || strings.TrimSpace(value) == "+" {
				current.IsDir = true
			}
		}
	}
	flush()
	return entries
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var stderrTail []string
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onStdout != nil {
				onStdout(scanner.Text())
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrTail = append(stderrTail, scanner.Text())
			if len(stderrTail) > 5 {
				stderrTail = stderrTail[1:]
			}
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if len(stderrTail) > 0 {
			return fmt.Errorf("%w: %s", err, strings.Join(stderrTail, "; "))
		}
		return err
	}
	return nil
}
