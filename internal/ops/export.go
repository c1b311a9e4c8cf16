package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/ledger"
)

// ExportSchemaVersion is written into every export header.
const ExportSchemaVersion = "1.0"

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path     string // optional, default: <exports>/ledger-<timestamp>.jsonl[.zst]
	Compress bool   // zstd-compress the default path; explicit paths decide by extension
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	LastHash   string `json:"last_hash"`
	Compressed bool   `json:"compressed"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of an export file.
type ExportHeader struct {
	CustodyExport bool   `json:"_custody_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	Records       int    `json:"records"`
	LastHash      string `json:"last_hash"`
}

// Export copies the whole ledger to a JSONL file, zstd-compressed when the
// path ends in .jsonl.zst. The export always covers every case so the hash
// chain stays verifiable on its own.
func Export(ctx context.Context, lg *ledger.Ledger, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportedAt := now.Unix()

	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(cfg, now, input.Compress)
		if err != nil {
			return nil, err
		}
	}
	if err := ValidatePath(exportPath, PathCheckWrite, cfg, ExportExtensions...); err != nil {
		return nil, err
	}
	compressed := extensionOf(exportPath, ExportExtensions) == ".jsonl.zst"

	// Snapshot first: the header carries the count and the chain head.
	records, err := lg.Records()
	if err != nil {
		return nil, err
	}
	lastHash := ""
	if len(records) > 0 {
		lastHash = records[len(records)-1].Hash
	}

	out, err := writeAtomic(exportPath, func(w io.Writer) error {
		if compressed {
			enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				return err
			}
			if err := writeExport(ctx, enc, exportedAt, records, lastHash); err != nil {
				enc.Close()
				return err
			}
			return enc.Close()
		}
		return writeExport(ctx, w, exportedAt, records, lastHash)
	})
	if err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       out,
		Count:      len(records),
		LastHash:   lastHash,
		Compressed: compressed,
		ExportedAt: exportedAt,
	}, nil
}

func writeExport(ctx context.Context, w io.Writer, exportedAt int64, records []ledger.Record, lastHash string) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	header := ExportHeader{
		CustodyExport: true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    exportedAt,
		Records:       len(records),
		LastHash:      lastHash,
	}
	if err := enc.Encode(header); err != nil {
		return err
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return errors.NewCancelled("export")
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// writeAtomic writes to a temp file next to path and renames it into place,
// so an existing file survives a failed write.
func writeAtomic(path string, write func(io.Writer) error) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to create output directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) {
			return "", err
		}
		return "", errors.NewInternal(fmt.Errorf("failed to create output file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := write(file); err != nil {
		if _, ok := errors.As(err); ok {
			return "", err
		}
		return "", errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return "", errors.NewInternal(err)
	}
	// Close before atomic replace (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to close output file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("output path is a symlink")
	}

	// On Windows os.Rename fails if the destination exists; the existing file is kept.
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return "", errors.NewAlreadyExists("file", path)
			}
		}
		return "", errors.NewInternal(fmt.Errorf("failed to finalize output: %w", err))
	}

	success = true
	return path, nil
}

// defaultExportPath generates the default export path.
// Format: <exports>/ledger-<timestamp>.jsonl or .jsonl.zst
func defaultExportPath(cfg *config.Config, now time.Time, compress bool) (string, error) {
	dir := ""
	if cfg != nil {
		dir = cfg.ExportsDir
	}
	if dir == "" {
		var err error
		if dir, err = DefaultExportsDir(); err != nil {
			return "", err
		}
	}
	ext := ".jsonl"
	if compress {
		ext = ".jsonl.zst"
	}
	name := fmt.Sprintf("ledger-%s%s", now.UTC().Format("2006-01-02T150405"), ext)
	return filepath.Join(dir, name), nil
}
