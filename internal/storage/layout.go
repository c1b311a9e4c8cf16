// Package storage materializes the evidence folder hierarchy under a storage root.
// It only ever creates directories and moves new files into place; it never
// deletes or renames an existing directory.
package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
)

// PartialSuffix marks a transfer that has not been committed yet.
const PartialSuffix = ".partial"

// QuarantineDir holds committed files whose Succeeded ledger entry could not be written.
const QuarantineDir = ".quarantine"

// Layout manages one storage root.
type Layout struct {
	root    string
	minFree uint64
	free    func(path string) (uint64, error)
}

// NewLayout returns a Layout for root. minFree > 0 makes Check fail when the
// filesystem holding root has less free space.
func NewLayout(root string, minFree uint64) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.NewInvalidRequest("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid storage root: %v", err))
	}
	return &Layout{root: abs, minFree: minFree, free: freeBytes}, nil
}

// Root returns the absolute storage root.
func (l *Layout) Root() string {
	return l.root
}

// Check verifies the root exists, is a writable directory and has enough free space.
func (l *Layout) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelled("storage check")
	}
	info, err := os.Stat(l.root)
	if err != nil {
		return errors.NewStorageUnavailable(l.root, err)
	}
	if !info.IsDir() {
		return errors.NewStorageUnavailable(l.root, fmt.Errorf("not a directory"))
	}

	probe, err := os.CreateTemp(l.root, ".probe-*")
	if err != nil {
		return errors.NewStorageUnavailable(l.root, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)

	if l.minFree > 0 {
		free, err := l.free(l.root)
		if err != nil {
			return errors.NewStorageUnavailable(l.root, err)
		}
		if free < l.minFree {
			return errors.NewStorageUnavailable(l.root,
				fmt.Errorf("only %d bytes free, %d required", free, l.minFree))
		}
	}
	return nil
}

// Ensure returns the absolute directory for c, creating missing levels.
// Creating a directory that already exists is not an error.
func (l *Layout) Ensure(ctx context.Context, c evidence.Context) (string, error) {
	if err := c.Validate(); err != nil {
		return "", errors.NewInvalidContext(err.Error())
	}
	for _, part := range c.Components() {
		if err := evidence.ValidateName("path component", part); err != nil {
			return "", errors.NewInvalidContext(err.Error())
		}
	}
	if err := l.Check(ctx); err != nil {
		return "", err
	}

	dir := filepath.Join(append([]string{l.root}, c.Components()...)...)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", errors.NewStorageUnavailable(l.root, err)
	}
	return dir, nil
}

// Abs resolves a path relative to the root and refuses anything escaping it.
func (l *Layout) Abs(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errors.NewInvalidRequest("relative path expected")
	}
	p := filepath.Join(l.root, rel)
	if r, err := filepath.Rel(l.root, p); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("path %q escapes the storage root", rel))
	}
	return p, nil
}

// PartialPath is where a transfer for final is written before Commit.
func PartialPath(final string) string {
	return final + PartialSuffix
}

// Commit syncs partial and moves it to final. An existing final file is never
// replaced: the call fails with ALREADY_EXISTS and partial is left untouched.
func (l *Layout) Commit(partial, final string) error {
	f, err := os.OpenFile(partial, os.O_RDWR, 0)
	if err != nil {
		return errors.NewStorageUnavailable(l.root, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.NewStorageUnavailable(l.root, err)
	}
	if err := f.Close(); err != nil {
		return errors.NewStorageUnavailable(l.root, err)
	}

	// A hard link fails atomically when final exists.
	if err := os.Link(partial, final); err == nil {
		os.Remove(partial)
		return nil
	} else if stderrors.Is(err, fs.ErrExist) {
		return errors.NewAlreadyExists("file", final)
	}

	// Filesystems without hard links (FAT, some network shares).
	if _, err := os.Lstat(final); err == nil {
		return errors.NewAlreadyExists("file", final)
	}
	if err := os.Rename(partial, final); err != nil {
		return errors.NewStorageUnavailable(l.root, err)
	}
	return nil
}

// Discard removes an uncommitted transfer. Missing files are ignored.
func (l *Layout) Discard(partial string) error {
	if !strings.HasSuffix(partial, PartialSuffix) {
		return errors.NewInvalidRequest("only partial transfers can be discarded")
	}
	if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Quarantine moves a committed file out of the evidence tree into
// <root>/.quarantine, keeping its relative path. It returns the new location.
func (l *Layout) Quarantine(final string) (string, error) {
	rel, err := filepath.Rel(l.root, final)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.NewInvalidRequest(fmt.Sprintf("%s is outside the storage root", final))
	}
	dst := filepath.Join(l.root, QuarantineDir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", errors.NewStorageUnavailable(l.root, err)
	}
	if _, err := os.Lstat(dst); err == nil {
		dst = fmt.Sprintf("%s.%d", dst, os.Getpid())
	}
	if err := os.Rename(final, dst); err != nil {
		return "", errors.NewStorageUnavailable(l.root, err)
	}
	return dst, nil
}
