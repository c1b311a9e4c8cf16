package storage

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/disk"

	"github.com/hpungsan/custody/internal/errors"
)

// File is one regular file found under the storage root.
type File struct {
	RelPath string `json:"rel_path"`
	Size    int64  `json:"size"`
	Partial bool   `json:"partial,omitempty"`
}

// Scan lists regular files under root in lexical order, skipping the
// quarantine folder and hidden probe files.
func Scan(ctx context.Context, root string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == QuarantineDir && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".probe-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, File{
			RelPath: rel,
			Size:    info.Size(),
			Partial: strings.HasSuffix(rel, PartialSuffix),
		})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("storage scan")
		}
		return nil, errors.NewStorageUnavailable(root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// freeBytes reports free space on the filesystem holding path.
func freeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
