package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

func dataSync(file *os.File) error {
	return unix.Fdatasync(int(file.Fd()))
}

func fileIdentity(file *os.File) (inode uint64, mtime int64, err error) {
	var st unix.Stat_t
	if err = unix.Fstat(int(file.Fd()), &st); err != nil {
		return
	}

	inode = st.Ino
	mtime = st.Mtim.Nano()

	return
}
