package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/errors"
)

// PathCheckMode indicates whether the path check is for reading or writing.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // export verification
	PathCheckWrite                      // export and report files
)

// File extensions accepted by the file-producing operations.
var (
	ExportExtensions = []string{".jsonl", ".jsonl.zst"}
	ReportExtensions = []string{".md", ".html"}
)

// ValidatePath checks a file custody reads or writes outside its own data:
// ledger exports and reports. The file must sit directly in the exports
// directory or an allowed_paths entry, never in a subdirectory, unless
// allow_unsafe_paths is set. Neither the file nor its parent may be a
// symlink, whatever the config. Files are then opened with O_NOFOLLOW, so no
// path component can be swapped between this check and the open.
func ValidatePath(path string, mode PathCheckMode, cfg *config.Config, exts ...string) error {
	abs, err := checkShape(path, exts)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.AllowUnsafePaths {
		if err := checkPlacement(abs, cfg); err != nil {
			return err
		}
	}
	return checkTarget(path, abs, mode)
}

// checkShape rejects empty paths, ".." components and foreign extensions,
// and returns the absolute path.
func checkShape(path string, exts []string) (string, error) {
	if path == "" {
		return "", errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}
	cleaned := filepath.Clean(path)
	if len(exts) > 0 && extensionOf(cleaned, exts) == "" {
		return "", errors.NewInvalidRequest(fmt.Sprintf("path must have one of the extensions %v", exts))
	}
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	return abs, nil
}

// checkPlacement requires abs to be directly inside an allowed directory
// whose entry is not itself a symlink.
func checkPlacement(abs string, cfg *config.Config) error {
	dirs, err := allowedDirs(cfg)
	if err != nil {
		return err
	}
	parent := filepath.Dir(abs)
	if !isDirectlyInAllowedDir(parent, dirs) {
		return errors.NewInvalidRequest(
			fmt.Sprintf("file must be directly in an allowed directory (no subdirectories); allowed: %v", dirs))
	}
	if isSymlink(parent) {
		return errors.NewInvalidRequest("parent directory must not be a symlink")
	}
	return nil
}

// checkTarget requires a file being read to exist, and any existing file
// to be a regular entry rather than a symlink.
func checkTarget(path, abs string, mode PathCheckMode) error {
	if mode == PathCheckRead {
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			return errors.NewNotFound("file", path)
		}
	}
	if isSymlink(abs) {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// extensionOf returns the longest entry of exts that path ends with, or "".
func extensionOf(path string, exts []string) string {
	best := ""
	lower := strings.ToLower(path)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) && len(ext) > len(best) {
			best = ext
		}
	}
	return best
}

// allowedDirs returns the exports directory plus absolute allowed_paths
// entries, cleaned, with symlinked entries resolved to their targets.
func allowedDirs(cfg *config.Config) ([]string, error) {
	var dirs []string
	if cfg != nil {
		if cfg.ExportsDir != "" {
			dirs = append(dirs, cfg.ExportsDir)
		}
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, p)
			}
		}
	}
	if len(dirs) == 0 {
		d, err := DefaultExportsDir()
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}

	for i, d := range dirs {
		abs, err := filepath.Abs(filepath.Clean(d))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if isSymlink(abs) {
			if abs, err = filepath.EvalSymlinks(abs); err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
		}
		dirs[i] = abs
	}
	return dirs, nil
}

// isDirectlyInAllowedDir checks if parentDir exactly matches one of the allowed directories.
func isDirectlyInAllowedDir(parentDir string, allowed []string) bool {
	parentDir = filepath.Clean(parentDir)
	for _, dir := range allowed {
		if parentDir == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// DefaultExportsDir returns the default exports directory (~/.custody/exports).
func DefaultExportsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(homeDir, ".custody", "exports"), nil
}

// containsTraversal reports a ".." component, splitting on both slash kinds
// so user input written for another OS is caught too.
func containsTraversal(path string) bool {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	})
	for _, part := range parts {
		if part == ".." {
			return true
		}
	}
	return false
}

var filenameReplacer = strings.NewReplacer("/", "-", "\\", "-", "..", "-")

// SanitizeForFilename turns a case reference into a safe file name stem.
func SanitizeForFilename(s string) string {
	s = filenameReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if s = strings.Trim(s, "-"); s == "" {
		return "unnamed"
	}
	return s
}
