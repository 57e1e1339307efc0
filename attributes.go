package swish

import (
	"os"
	"time"
)

// AttrFlag marks which Attributes fields are valid.
type AttrFlag uint32

const (
	AttrSize AttrFlag = 1 << iota
	AttrUIDGID
	AttrPermissions
	AttrTimes
)

// Attributes are SFTP file attributes.
type Attributes struct {
	Flags      AttrFlag
	Size       uint64
	UID        uint32
	GID        uint32
	Mode       os.FileMode
	AccessTime time.Time
	ModTime    time.Time
}

// Has reports whether every bit in f is set.
func (a Attributes) Has(f AttrFlag) bool {
	return a.Flags&f == f
}

// IsDir reports whether the attributes describe a directory.
func (a Attributes) IsDir() bool {
	return a.Has(AttrPermissions) && a.Mode.IsDir()
}

// IsSymlink reports whether the attributes describe a symbolic link.
func (a Attributes) IsSymlink() bool {
	return a.Has(AttrPermissions) && a.Mode&os.ModeSymlink != 0
}

// OpenFlag are SFTP open flags (SSH_FXF_*).
type OpenFlag uint32

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	OpenAppend
	OpenCreate
	OpenTruncate
	OpenExclusive
)

// OSFlags converts f to os.OpenFile flags.
func (f OpenFlag) OSFlags() int {
	var flags int

	switch {
	case f&OpenRead != 0 && f&OpenWrite != 0:
		flags = os.O_RDWR
	case f&OpenWrite != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}

	if f&OpenAppend != 0 {
		flags |= os.O_APPEND
	}

	if f&OpenCreate != 0 {
		flags |= os.O_CREATE
	}

	if f&OpenTruncate != 0 {
		flags |= os.O_TRUNC
	}

	if f&OpenExclusive != 0 {
		flags |= os.O_EXCL
	}

	return flags
}
