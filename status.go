package swish

import "fmt"

// StatusCode is an SFTP status (SSH_FX_*) as defined by the SFTP drafts.
type StatusCode uint32

// StatusNone marks an SFTPError that carries no protocol status.
const StatusNone StatusCode = ^StatusCode(0)

const (
	StatusOK StatusCode = iota
	StatusEOF
	StatusNoSuchFile
	StatusPermissionDenied
	StatusFailure
	StatusBadMessage
	StatusNoConnection
	StatusConnectionLost
	StatusOpUnsupported
	StatusInvalidHandle
	StatusNoSuchPath
	StatusFileAlreadyExists
	StatusWriteProtect
	StatusNoMedia
	StatusNoSpaceOnFilesystem
	StatusQuotaExceeded
	StatusUnknownPrincipal
	StatusLockConflict
	StatusDirNotEmpty
	StatusNotADirectory
	StatusInvalidFilename
	StatusLinkLoop
)

var statusNames = map[StatusCode]string{
	StatusOK:                  "ok",
	StatusEOF:                 "end of file",
	StatusNoSuchFile:          "no such file",
	StatusPermissionDenied:    "permission denied",
	StatusFailure:             "failure",
	StatusBadMessage:          "bad message",
	StatusNoConnection:        "no connection",
	StatusConnectionLost:      "connection lost",
	StatusOpUnsupported:       "operation unsupported",
	StatusInvalidHandle:       "invalid handle",
	StatusNoSuchPath:          "no such path",
	StatusFileAlreadyExists:   "file already exists",
	StatusWriteProtect:        "write protected",
	StatusNoMedia:             "no media",
	StatusNoSpaceOnFilesystem: "no space on filesystem",
	StatusQuotaExceeded:       "quota exceeded",
	StatusUnknownPrincipal:    "unknown principal",
	StatusLockConflict:        "lock conflict",
	StatusDirNotEmpty:         "directory not empty",
	StatusNotADirectory:       "not a directory",
	StatusInvalidFilename:     "invalid filename",
	StatusLinkLoop:            "link loop",
}

func (c StatusCode) String() string {
	if c == StatusNone {
		return "no status"
	}

	if name, ok := statusNames[c]; ok {
		return name
	}

	return fmt.Sprintf("status %d", uint32(c))
}
