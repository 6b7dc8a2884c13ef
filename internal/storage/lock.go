package storage

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Lock - Takes an advisory lock on the file, shared for readers and exclusive for writers
//   - exclusive requests an exclusive lock instead of a shared one
//   - nonBlocking makes the call fail with ErrWouldBlock instead of waiting for a conflicting lock
func (S *Storage) Lock(exclusive, nonBlocking bool) (err error) {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if nonBlocking {
		how |= unix.LOCK_NB
	}

	for {
		err = unix.Flock(int(S.file.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}

	switch {
	case err == nil:
		S.locked = true
	case errors.Is(err, unix.EWOULDBLOCK):
		err = ErrWouldBlock
	default:
		err = fmt.Errorf("error while locking database file: %s", err)
	}

	return
}

// Unlock - Releases the advisory lock on the file
func (S *Storage) Unlock() (err error) {
	if err = unix.Flock(int(S.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("error while unlocking database file: %s", err)
	}
	S.locked = false

	return
}
