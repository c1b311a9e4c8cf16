//go:build !windows

package ledger

import (
	stderrors "errors"
	"os"

	"golang.org/x/sys/unix"
)

// tryLock takes an exclusive flock on f. It reports false when another open
// file description holds it.
func tryLock(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if stderrors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return err == nil, err
}

func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
