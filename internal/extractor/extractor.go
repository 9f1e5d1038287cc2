package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docprep/internal/layout"
	"docprep/internal/lifecycle"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/services/sevenzip"
	"docprep/internal/stage"
	"docprep/internal/unit"
)

// Options bound a single unit's unpack work. The size and count ceilings are
// cumulative across every archive and nesting level of the unit, so a bundle
// of small archives cannot sidestep them.
type Options struct {
	MaxUnpackBytes int64
	MaxFiles       int
	MaxDepth       int
	KeepArchives   bool
}

// DefaultOptions mirrors the shipped configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxUnpackBytes: 500 << 20,
		MaxFiles:       1000,
		MaxDepth:       5,
	}
}

// ArchiveTool handles formats without a native reader. Implemented by
// sevenzip.Client.
type ArchiveTool interface {
	List(ctx context.Context, archivePath string) ([]sevenzip.Entry, error)
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Extractor unpacks archive units recursively, enforcing unpack ceilings
// before any member is written.
type Extractor struct {
	tree     layout.Tree
	tool     ArchiveTool
	logger   *slog.Logger
	cycle    int
	maxCycle int
	opts     Options
}

// New constructs an extractor for the given cycle. tool may be nil, in which
// case rar and 7z archives are reported as failures.
func New(tree layout.Tree, tool ArchiveTool, logger *slog.Logger, cycle, maxCycles int, opts Options) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{
		tree:     tree,
		tool:     tool,
		logger:   logger.With(logging.String("component", "extractor")),
		cycle:    cycle,
		maxCycle: maxCycles,
		opts:     opts,
	}
}

// Prepare rejects units that are not queued for extraction.
func (x *Extractor) Prepare(_ context.Context, u *unit.Unit) error {
	if state := u.Manifest.CurrentState(); state != lifecycle.StatusPendingExtract {
		return services.Wrap(services.ErrValidation, "extractor", "prepare",
			fmt.Sprintf("unit %s in state %s, want %s", u.ID(), state, lifecycle.StatusPendingExtract), nil)
	}
	return nil
}

// Execute unpacks every archive in the unit. Quarantine and no-success
// failures are returned tagged so the caller can route the unit to the
// matching exception bucket.
func (x *Extractor) Execute(ctx context.Context, u *unit.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	archives, err := x.findArchives(u)
	if err != nil {
		return services.Wrap(services.ErrOperation, "extractor", "scan", "list unit files", err)
	}
	if len(archives) == 0 {
		return services.WithReason(services.ReasonErExtract,
			services.Wrap(services.ErrOperation, "extractor", "scan",
				fmt.Sprintf("unit %s holds no recognizable archives", u.ID()), nil))
	}

	st := &unpackState{visited: make(map[[sha256.Size]byte]struct{})}
	var extracted int
	var lastErr error

	for _, rel := range archives {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(u.Dir, rel)
		n, err := x.unpackArchive(ctx, abs, st, 0)
		if err != nil {
			if errors.Is(err, services.ErrQuarantine) {
				u.Manifest.AppendOperation(manifest.Operation{
					Type:   "extract",
					Status: manifest.OpQuarantined,
					Cycle:  x.cycle,
					Tool:   toolName(abs),
					Error:  err.Error(),
				})
				if saveErr := u.Save(); saveErr != nil {
					x.logger.Error("persist quarantine record",
						logging.String("unit", u.ID()), logging.Error(saveErr))
				}
				return err
			}
			lastErr = err
			u.Manifest.AppendOperation(manifest.Operation{
				Type:   "extract",
				Status: manifest.OpFailed,
				Cycle:  x.cycle,
				Tool:   toolName(abs),
				Error:  err.Error(),
			})
			x.logger.Warn("archive extraction failed",
				logging.String("unit", u.ID()),
				logging.String("archive", rel),
				logging.Error(err))
			continue
		}
		if n == 0 {
			lastErr = fmt.Errorf("archive %s produced no files", rel)
			u.Manifest.AppendOperation(manifest.Operation{
				Type:   "extract",
				Status: manifest.OpFailed,
				Cycle:  x.cycle,
				Tool:   toolName(abs),
				Error:  lastErr.Error(),
			})
			continue
		}

		extracted += n
		op := manifest.Operation{
			Type:    "extract",
			Status:  manifest.OpSuccess,
			Cycle:   x.cycle,
			Tool:    toolName(abs),
			Details: map[string]int{"files_extracted": n},
		}
		u.Manifest.AppendOperation(op)
		u.Manifest.RecordTransformation(rel, op)
		if !x.opts.KeepArchives {
			if err := os.Remove(abs); err != nil {
				x.logger.Warn("remove source archive",
					logging.String("unit", u.ID()),
					logging.String("archive", rel),
					logging.Error(err))
			}
		}
	}

	if extracted == 0 {
		if saveErr := u.Save(); saveErr != nil {
			x.logger.Error("persist failure records",
				logging.String("unit", u.ID()), logging.Error(saveErr))
		}
		return services.WithReason(services.ReasonErExtract,
			services.Wrap(services.ErrOperation, "extractor", "unpack",
				fmt.Sprintf("unit %s: no archive produced files", u.ID()), lastErr))
	}

	if err := x.advance(u); err != nil {
		return err
	}

	x.logger.Info("unit extracted",
		logging.String("unit", u.ID()),
		logging.Int("cycle", x.cycle),
		logging.Int("files_extracted", extracted),
		logging.String("state", string(u.Manifest.CurrentState())))
	return nil
}

// HealthCheck verifies the external archive tool is reachable when one is
// configured.
func (x *Extractor) HealthCheck(ctx context.Context) stage.Health {
	if x.tool == nil {
		return stage.Healthy("extractor")
	}
	if hc, ok := x.tool.(interface{ HealthCheck(context.Context) error }); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return stage.Unhealthy("extractor", err.Error())
		}
	}
	return stage.Healthy("extractor")
}

var _ stage.Handler = (*Extractor)(nil)

// advance moves the unit to the next lifecycle stop. Mid-run cycles hand the
// unit back to the next classification pass in place; the final cycle merges
// it into the processed tree.
func (x *Extractor) advance(u *unit.Unit) error {
	if x.cycle < x.maxCycle {
		if err := u.Transition(lifecycle.ClassifiedFor(x.cycle+1), x.cycle); err != nil {
			return err
		}
		return u.Save()
	}

	if err := u.Transition(lifecycle.StatusMergedProcessed, x.cycle); err != nil {
		return err
	}
	if err := u.Save(); err != nil {
		return err
	}
	key := layout.OutMixed
	if !u.Manifest.Mixed() {
		if ext, err := u.DominantExtension(); err == nil && ext != "" {
			key = ext
		}
	}
	return u.MoveTo(x.tree.MergeArea(x.cycle, layout.OutExtracted, key), x.tree)
}

// findArchives returns unit-relative paths of files whose content is an
// archive, regardless of extension. Sorted for deterministic processing.
func (x *Extractor) findArchives(u *unit.Unit) ([]string, error) {
	files, err := u.AllContentFiles()
	if err != nil {
		return nil, err
	}
	var archives []string
	for _, rel := range files {
		kind, err := archiveKind(filepath.Join(u.Dir, rel))
		if err != nil {
			continue
		}
		if kind != "" {
			archives = append(archives, rel)
		}
	}
	sort.Strings(archives)
	return archives, nil
}

type unpackState struct {
	bytes   int64
	files   int
	visited map[[sha256.Size]byte]struct{}
}

// unpackArchive extracts one archive into a sibling "{stem}_extracted"
// directory and recurses into nested archives. Returns the number of files
// extracted at this level and below.
func (x *Extractor) unpackArchive(ctx context.Context, archivePath string, st *unpackState, depth int) (int, error) {
	if depth > x.opts.MaxDepth {
		x.logger.Warn("nesting depth ceiling reached, leaving archive packed",
			logging.String("archive", filepath.Base(archivePath)),
			logging.Int("depth", depth))
		return 0, nil
	}

	sum, err := hashFile(archivePath)
	if err != nil {
		return 0, fmt.Errorf("hash archive: %w", err)
	}
	if _, seen := st.visited[sum]; seen {
		// Self-referential or duplicated archive; extracting again would loop.
		return 0, nil
	}
	st.visited[sum] = struct{}{}

	kind, err := archiveKind(archivePath)
	if err != nil {
		return 0, err
	}

	dest := extractionDir(archivePath)
	switch kind {
	case "zip":
		return x.unpackZip(ctx, archivePath, dest, st, depth)
	case "rar", "7z":
		return x.unpackWithTool(ctx, archivePath, dest, st, depth)
	default:
		return 0, fmt.Errorf("unrecognized archive format: %s", filepath.Base(archivePath))
	}
}

func (x *Extractor) unpackZip(ctx context.Context, archivePath, dest string, st *unpackState, depth int) (int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	var count int
	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		declared := int64(entry.UncompressedSize64)
		// Zero-byte entries are discarded as extraction noise and never count
		// against the ceilings.
		if declared == 0 {
			continue
		}
		if err := st.charge(declared, x.opts); err != nil {
			return count, err
		}
		name := SanitizeEntryName(entry.Name)
		if name == "" {
			continue
		}

		target := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return count, fmt.Errorf("create entry directory: %w", err)
		}
		written, err := writeZipEntry(entry, target, declared)
		if err != nil {
			return count, err
		}
		// Declared sizes in a zip directory can lie; charge the overage and
		// re-check before moving on.
		if written > declared {
			if err := st.chargeBytes(written-declared, x.opts); err != nil {
				_ = os.Remove(target)
				return count, err
			}
		}
		count++

		if nested, _ := archiveKind(target); nested != "" {
			n, err := x.unpackArchive(ctx, target, st, depth+1)
			if err != nil {
				return count, err
			}
			if n > 0 {
				count += n
				if !x.opts.KeepArchives {
					_ = os.Remove(target)
					count--
				}
			}
		}
	}
	return count, nil
}

func (x *Extractor) unpackWithTool(ctx context.Context, archivePath, dest string, st *unpackState, depth int) (int, error) {
	if x.tool == nil {
		return 0, fmt.Errorf("no tool available for %s", filepath.Base(archivePath))
	}

	entries, err := x.tool.List(ctx, archivePath)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if entry.IsDir || entry.Size == 0 {
			continue
		}
		if err := st.charge(entry.Size, x.opts); err != nil {
			return 0, err
		}
	}

	if err := x.tool.Extract(ctx, archivePath, dest); err != nil {
		return 0, err
	}

	var count int
	var nested []string
	err = filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			return os.Remove(path)
		}
		count++
		if kind, _ := archiveKind(path); kind != "" {
			nested = append(nested, path)
		}
		return nil
	})
	if err != nil {
		return count, err
	}

	for _, path := range nested {
		n, err := x.unpackArchive(ctx, path, st, depth+1)
		if err != nil {
			return count, err
		}
		if n > 0 {
			count += n
			if !x.opts.KeepArchives {
				if err := os.Remove(path); err == nil {
					count--
				}
			}
		}
	}
	return count, nil
}

// charge adds one member's declared size to the running totals and enforces
// both ceilings. Size is checked before count so an oversize first member is
// reported as a size violation.
func (st *unpackState) charge(declared int64, opts Options) error {
	if err := st.chargeBytes(declared, opts); err != nil {
		return err
	}
	st.files++
	if opts.MaxFiles > 0 && st.files > opts.MaxFiles {
		return services.WithReason(services.ReasonZipBomb,
			services.Wrap(services.ErrQuarantine, "extractor", "unpack",
				fmt.Sprintf("archive member count %d exceeds ceiling %d", st.files, opts.MaxFiles), nil))
	}
	return nil
}

func (st *unpackState) chargeBytes(n int64, opts Options) error {
	st.bytes += n
	if opts.MaxUnpackBytes > 0 && st.bytes > opts.MaxUnpackBytes {
		return services.WithReason(services.ReasonZipBomb,
			services.Wrap(services.ErrQuarantine, "extractor", "unpack",
				fmt.Sprintf("declared unpack size %d exceeds ceiling %d", st.bytes, opts.MaxUnpackBytes), nil))
	}
	return nil
}

func writeZipEntry(entry *zip.File, target string, declared int64) (int64, error) {
	rc, err := entry.Open()
	if err != nil {
		return 0, fmt.Errorf("open zip entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	written, copyErr := io.Copy(out, io.LimitReader(rc, declared+1))
	closeErr := out.Close()
	if copyErr != nil {
		return written, fmt.Errorf("write %s: %w", target, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("close %s: %w", target, closeErr)
	}
	return written, nil
}

func extractionDir(archivePath string) string {
	base := filepath.Base(archivePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(filepath.Dir(archivePath), stem+"_extracted")
}

var archiveMagics = []struct {
	kind  string
	magic []byte
}{
	{"zip", []byte{'P', 'K', 0x03, 0x04}},
	{"zip", []byte{'P', 'K', 0x05, 0x06}},
	{"zip", []byte{'P', 'K', 0x07, 0x08}},
	{"rar", []byte{'R', 'a', 'r', '!', 0x1a, 0x07}},
	{"7z", []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}},
}

// archiveKind inspects leading bytes; extension plays no part here.
func archiveKind(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, 8)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	header = header[:n]
	for _, m := range archiveMagics {
		if bytes.HasPrefix(header, m.magic) {
			return m.kind, nil
		}
	}
	return "", nil
}

func toolName(archivePath string) string {
	kind, _ := archiveKind(archivePath)
	switch kind {
	case "rar", "7z":
		return "7z"
	case "zip":
		return "zip"
	default:
		return ""
	}
}

func hashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
