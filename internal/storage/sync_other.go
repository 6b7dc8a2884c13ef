//go:build !linux

package storage

import (
	"os"
)

func dataSync(file *os.File) error {
	return file.Sync()
}

func fileIdentity(file *os.File) (inode uint64, mtime int64, err error) {
	info, err := file.Stat()
	if err != nil {
		return
	}
	mtime = info.ModTime().UnixNano()

	return
}
