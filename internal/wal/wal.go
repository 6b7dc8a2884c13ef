package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// magicData - Signature at the start of every log file
const magicData string = "HDBWAL\x00\x01"

// headerLength - Length of the log header, signature and the file size when the log was started
const headerLength int64 = 16

// entryHeadLength - Length of an entry head, file offset (8 bytes) and before-image length (4 bytes)
const entryHeadLength int64 = 12

// ErrBadLog - Returned when the log file can not be used for rollback
var ErrBadLog = errors.New("bad write-ahead log")

// Target - The file a log is rolled back onto
type Target interface {
	// RestoreAt - Writes buf at offset without journaling it
	RestoreAt(buf []byte, offset int64) error

	// Truncate - Sets the true size of the file
	Truncate(size int64) error
}

// Log - An undo log holding before-images of every byte overwritten since a transaction began
type Log struct {
	fileName string
	file     *os.File
	limit    int64
	size     int64
	sync     bool
}

// FileName - Returns the log file name belonging to a database file
func FileName(dbFileName string) string {
	return dbFileName + ".wal"
}

// Create - Creates (or truncates) the log file and writes its header
//   - fileName is the log file name
//   - limit is the database file size when the transaction began
//   - sync forces every appended entry to the device before the database file is written
//
// It returns:
//   - L is a pointer to the new Log instance
//   - err is a standard error, if something went wrong
func Create(fileName string, limit int64, sync bool) (L *Log, err error) {
	file, err := os.OpenFile(fileName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		err = fmt.Errorf("error while creating log file: %s", err)
		return
	}

	buf := make([]byte, headerLength)
	_ = copy(buf, magicData)
	binary.LittleEndian.PutUint64(buf[8:], uint64(limit))
	if _, err = file.WriteAt(buf, 0); err == nil && sync {
		err = file.Sync()
	}
	if err != nil {
		_ = file.Close()
		err = fmt.Errorf("error while writing log header: %s", err)
		return
	}

	L = &Log{fileName: fileName, file: file, limit: limit, size: headerLength, sync: sync}

	return
}

// Limit - Returns the database file size when the transaction began
func (L *Log) Limit() int64 {
	return L.limit
}

// Append - Adds a before-image to the log
func (L *Log) Append(offset int64, before []byte) (err error) {
	buf := make([]byte, entryHeadLength+int64(len(before)))
	binary.LittleEndian.PutUint64(buf, uint64(offset))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(before)))
	_ = copy(buf[entryHeadLength:], before)

	if _, err = L.file.WriteAt(buf, L.size); err != nil {
		return fmt.Errorf("error while appending to log: %s", err)
	}
	L.size += int64(len(buf))

	if L.sync {
		if err = L.file.Sync(); err != nil {
			return fmt.Errorf("error while syncing log: %s", err)
		}
	}

	return
}

// Close - Closes the log file, leaving it in place
func (L *Log) Close() (err error) {
	if err = L.file.Close(); err != nil {
		err = fmt.Errorf("error while closing log file: %s", err)
	}

	return
}

// Remove - Closes and deletes the log file
func (L *Log) Remove() (err error) {
	_ = L.file.Close()
	if err = os.Remove(L.fileName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error while removing log file: %s", err)
	}

	return nil
}

// Exists - Returns true if a log file is present
func Exists(fileName string) (exists bool, err error) {
	_, err = os.Stat(fileName)
	switch {
	case err == nil:
		exists = true
	case os.IsNotExist(err):
		err = nil
	default:
		err = fmt.Errorf("error while checking for log file: %s", err)
	}

	return
}

// Replay - Rolls target back to the state it had when the log was started
// Entries are written back in reverse order so that the oldest before-image of any byte wins, then target is
// truncated to the size it had. An incomplete trailing entry is ignored since its write never reached target.
//   - fileName is the log file name
//   - target is the file to roll back
//
// It returns:
//   - entries is the number of before-images written back
//   - err is a standard error, ErrBadLog is wrapped if the log is unusable
func Replay(fileName string, target Target) (entries int, err error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		err = fmt.Errorf("%w: error while reading log file: %s", ErrBadLog, err)
		return
	}
	if int64(len(data)) < headerLength || string(data[:8]) != magicData {
		err = fmt.Errorf("%w: bad log header", ErrBadLog)
		return
	}
	limit := int64(binary.LittleEndian.Uint64(data[8:]))

	type entry struct {
		offset int64
		image  []byte
	}
	var log []entry

	pos := headerLength
	for pos+entryHeadLength <= int64(len(data)) {
		offset := int64(binary.LittleEndian.Uint64(data[pos:]))
		n := int64(binary.LittleEndian.Uint32(data[pos+8:]))
		if pos+entryHeadLength+n > int64(len(data)) {
			break
		}
		log = append(log, entry{offset: offset, image: data[pos+entryHeadLength : pos+entryHeadLength+n]})
		pos += entryHeadLength + n
	}

	for i := len(log) - 1; i >= 0; i-- {
		if err = target.RestoreAt(log[i].image, log[i].offset); err != nil {
			err = fmt.Errorf("error while restoring before-image at %d: %s", log[i].offset, err)
			return
		}
		entries++
	}

	if err = target.Truncate(limit); err != nil {
		err = fmt.Errorf("error while truncating to size before transaction: %s", err)
	}

	return
}
