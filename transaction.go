package hashdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/gostonefire/hashdb/internal/conf"
	"github.com/gostonefire/hashdb/internal/wal"
)

// TranBegin - Starts a transaction.
// From here on the before-image of every byte overwritten in the file is written to a log file next to the database
// file, so that TranAbort, or Open after a crash, can roll the file back to its state at TranBegin.
//
// It returns:
//   - err is of type *Error, KindAlreadyActive if a transaction is already active on the handle
func (H *HashDB) TranBegin() (err error) {
	defer H.lock()()

	if err = H.beginWrite("tranbegin"); err != nil {
		return
	}
	if H.tran != nil {
		return newError(KindAlreadyActive, "tranbegin", nil)
	}

	return toError("tranbegin", H.tranBegin())
}

// tranBegin - Persists the pool, creates the log and attaches it to the storage
func (H *HashDB) tranBegin() (err error) {
	tsync := H.omode&OTSync != 0

	if err = H.persistPool(); err != nil {
		return
	}
	if err = H.storage.Sync(tsync); err != nil {
		return
	}

	log, err := wal.Create(wal.FileName(H.path), H.storage.FSiz(), tsync)
	if err != nil {
		return
	}
	if err = H.storage.SetFlags(H.storage.Flags() | conf.FlagTran); err != nil {
		_ = log.Remove()
		return
	}

	H.storage.SetJournal(log)
	H.tran = log

	return
}

// TranCommit - Ends the active transaction keeping every change made within it.
//
// It returns:
//   - err is of type *Error, KindNotActive if no transaction is active on the handle
func (H *HashDB) TranCommit() (err error) {
	defer H.lock()()

	if err = H.writable("trancommit", true); err != nil {
		return
	}
	if H.tran == nil {
		return newError(KindNotActive, "trancommit", nil)
	}
	if err = H.flushAsync(); err != nil {
		return toError("trancommit", err)
	}

	H.storage.SetJournal(nil)
	if H.omode&OTSync != 0 {
		if err = H.storage.Sync(true); err != nil {
			return toError("trancommit", err)
		}
	}

	return toError("trancommit", H.tranEnd())
}

// TranAbort - Ends the active transaction rolling back every change made within it.
// Writes buffered by PutAsync during the transaction are dropped. If the rollback fails the database is marked as
// needing repair.
//
// It returns:
//   - err is of type *Error, KindNotActive if no transaction is active on the handle
func (H *HashDB) TranAbort() (err error) {
	defer H.lock()()

	if err = H.writable("tranabort", true); err != nil {
		return
	}
	if H.tran == nil {
		return newError(KindNotActive, "tranabort", nil)
	}

	return toError("tranabort", H.tranAbort())
}

// tranAbort - Replays the log onto the file and reloads everything derived from it
func (H *HashDB) tranAbort() (err error) {
	H.async.reset()
	H.storage.SetJournal(nil)
	_ = H.tran.Close()
	H.tran = nil

	walName := wal.FileName(H.path)
	entries, err := wal.Replay(walName, H.storage)
	if err != nil {
		hLog.Error(fmt.Sprintf("rollback of %s failed: %s", H.path, err))
		return errors.Join(err, H.setFatal())
	}
	if err = os.Remove(walName); err != nil {
		return
	}

	H.pool.Load(H.storage.ReadFreeBlocks())
	H.cache.Purge()
	H.generation++
	H.dfcnt = 0
	hLog.Debug(fmt.Sprintf("rolled back %d writes in %s", entries, H.path))

	return H.storage.SetFlags(H.storage.Flags() &^ conf.FlagTran)
}

// TranVoid - Ends the active transaction without rolling back, keeping whatever changes were made within it.
// Unlike TranCommit no sync is done.
func (H *HashDB) TranVoid() (err error) {
	defer H.lock()()

	if err = H.writable("tranvoid", true); err != nil {
		return
	}
	if H.tran == nil {
		return newError(KindNotActive, "tranvoid", nil)
	}
	if err = H.flushAsync(); err != nil {
		return toError("tranvoid", err)
	}

	H.storage.SetJournal(nil)

	return toError("tranvoid", H.tranEnd())
}

// tranEnd - Removes the log and clears the transaction flag, the log goes first so a crash in between keeps the changes
func (H *HashDB) tranEnd() (err error) {
	log := H.tran
	H.tran = nil
	if err = log.Remove(); err != nil {
		return
	}

	return H.storage.SetFlags(H.storage.Flags() &^ conf.FlagTran)
}

// Transaction - Runs fn within a transaction, committing it if fn returns nil and aborting it if fn returns an
// error or panics. A panic is passed on once the transaction is aborted.
// With the mutex enabled, fn may call back into the handle.
func (H *HashDB) Transaction(fn func() error) (err error) {
	if err = H.TranBegin(); err != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			_ = H.TranAbort()
			panic(r)
		}
	}()

	if err = fn(); err != nil {
		if abortErr := H.TranAbort(); abortErr != nil {
			return errors.Join(err, abortErr)
		}
		return
	}

	return H.TranCommit()
}
