package resolver

import "os"

// FS is the filesystem query capability the resolver depends on.
type FS interface {
	Exists(path string) bool
	IsDir(path string) bool
}

// OSFS answers queries against the real filesystem.
type OSFS struct{}

func (OSFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFS) IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
