package daemon

import "os"

// FileLock holds an exclusive file lock that the OS releases when the
// process exits, even on SIGKILL.
type FileLock struct {
	path string
	file *os.File
}

// LockPath returns the path to the lock file.
func (l *FileLock) LockPath() string {
	if l == nil {
		return ""
	}
	return l.path
}
