package archive

import (
	"os"
	"syscall"
)

// lockFile takes an exclusive advisory lock on f. The lock is released
// by unlockFile or automatically when the process dies.
func lockFile(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		return &Error{Kind: KindLockHeld, Path: f.Name()}
	}
	if err != nil {
		return &Error{Kind: KindWriteFailed, Path: f.Name(), Err: err}
	}
	return nil
}

func unlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
