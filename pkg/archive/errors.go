package archive

import "fmt"

// Kind classifies an archive failure.
type Kind string

const (
	// KindWriteFailed means an append or sync against the container
	// file failed. Fatal to the run.
	KindWriteFailed Kind = "write_failed"

	// KindLockHeld means another process holds the archive lock.
	KindLockHeld Kind = "lock_held"

	// KindCorruptEntry means an entry could not be decoded during a
	// read pass.
	KindCorruptEntry Kind = "corrupt_entry"
)

// Error is a classified archive failure.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindLockHeld:
		return fmt.Sprintf("archive: %s is locked by another process", e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("archive: %s: %s: %v", e.Path, e.Kind, e.Err)
		}
		return fmt.Sprintf("archive: %s: %s", e.Path, e.Kind)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}
