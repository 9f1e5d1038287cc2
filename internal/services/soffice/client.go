package soffice

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Converter is the behaviour the conversion handler requires.
type Converter interface {
	Convert(ctx context.Context, inputPath, outDir, targetExt string) (string, error)
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

// WithTimeouts overrides the size-scaled timeout policy.
func WithTimeouts(base, perMB, max time.Duration) Option {
	return func(c *Client) {
		c.baseTimeout = base
		c.perMBTimeout = perMB
		c.maxTimeout = max
	}
}

// Client wraps headless LibreOffice invocations.
type Client struct {
	binary       string
	exec         Executor
	baseTimeout  time.Duration
	perMBTimeout time.Duration
	maxTimeout   time.Duration
}

// New constructs a LibreOffice client with the default timeout policy of
// 60s plus 30s per input megabyte, capped at 600s.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("soffice binary required")
	}
	client := &Client{
		binary:       binary,
		exec:         commandExecutor{},
		baseTimeout:  60 * time.Second,
		perMBTimeout: 30 * time.Second,
		maxTimeout:   600 * time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Convert runs "soffice --headless --convert-to <ext>" and returns the path
// of the produced file. The deadline scales with input size so a large
// spreadsheet is not cut off by a flat timeout.
func (c *Client) Convert(ctx context.Context, inputPath, outDir, targetExt string) (string, error) {
	if inputPath == "" {
		return "", errors.New("input path required")
	}
	if outDir == "" {
		return "", errors.New("output directory required")
	}
	targetExt = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(targetExt)), ".")
	if targetExt == "" {
		return "", errors.New("target extension required")
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeoutFor(info.Size()))
	defer cancel()

	args := []string{"--headless", "--norestore", "--convert-to", targetExt, "--outdir", outDir, inputPath}
	if err := c.exec.Run(runCtx, c.binary, args, nil); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("conversion of %s (%s) timed out: %w",
				filepath.Base(inputPath), humanize.IBytes(uint64(info.Size())), err)
		}
		return "", fmt.Errorf("soffice convert %s: %w", filepath.Base(inputPath), err)
	}

	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	output := filepath.Join(outDir, stem+"."+targetExt)
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("soffice reported success but produced no %s for %s", targetExt, base)
	}
	return output, nil
}

// HealthCheck confirms the binary resolves on PATH.
func (c *Client) HealthCheck(context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("soffice binary %q not found: %w", c.binary, err)
	}
	return nil
}

func (c *Client) timeoutFor(sizeBytes int64) time.Duration {
	mb := sizeBytes / (1 << 20)
	timeout := c.baseTimeout + time.Duration(mb)*c.perMBTimeout
	if timeout > c.maxTimeout {
		timeout = c.maxTimeout
	}
	return timeout
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
