// Package fsys is the filesystem capability used by every component that
// touches the disk.
//
// The capability is selected once at process start with Default and passed
// explicitly; nothing in the tree calls the link or permission primitives of
// package os directly.
package fsys

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

const (
	// writeBits are cleared by Lock and restored (owner and group) by Unlock.
	writeBits = 0o222
	fileMode  = 0o644
)

// Filesystem is the set of disk operations the storage tiers rely on.
type Filesystem interface {
	Lstat(path string) (fs.FileInfo, error)
	Stat(path string) (fs.FileInfo, error)
	Exists(path string) bool
	IsSymlink(path string) bool
	Readlink(path string) (string, error)

	// Link creates a hardlink newname pointing at the inode of oldname.
	Link(oldname, newname string) error
	// Symlink creates newname as a symlink to target, failing if newname exists.
	Symlink(target, newname string) error
	// ReplaceSymlink atomically points newname at target, replacing whatever
	// symlink or file was there.
	ReplaceSymlink(target, newname string) error

	Rename(oldpath, newpath string) error
	Remove(path string) error
	RemoveAll(path string) error
	MkdirAll(path string) error

	Open(path string) (*os.File, error)
	// CopyFile streams src into dst through a temporary file in dst's
	// directory, so dst is either absent or complete.
	CopyFile(src, dst string) error
	// WriteFile atomically replaces path with data.
	WriteFile(path string, data []byte, perm fs.FileMode) error
	// CreateTemp opens a new temporary file in dir with mode 0644.
	CreateTemp(dir, pattern string) (*os.File, error)

	// Lock removes every write permission bit from path.
	Lock(path string) error
	// Unlock grants write permission to owner and group.
	Unlock(path string) error
	// Writable reports whether any write bit is set on path.
	Writable(path string) bool
}

// Default returns the Filesystem for the running platform.
func Default() Filesystem {
	return osFS{}
}

type osFS struct{}

func (osFS) Lstat(path string) (fs.FileInfo, error) { return os.Lstat(path) }
func (osFS) Stat(path string) (fs.FileInfo, error)  { return os.Stat(path) }
func (osFS) Readlink(path string) (string, error)   { return os.Readlink(path) }
func (osFS) Link(oldname, newname string) error     { return os.Link(oldname, newname) }
func (osFS) Symlink(target, newname string) error   { return os.Symlink(target, newname) }
func (osFS) Rename(oldpath, newpath string) error   { return os.Rename(oldpath, newpath) }
func (osFS) Remove(path string) error               { return os.Remove(path) }
func (osFS) Open(path string) (*os.File, error)     { return os.Open(path) }
func (osFS) MkdirAll(path string) error             { return os.MkdirAll(path, 0o755) }

func (osFS) CreateTemp(dir, pattern string) (*os.File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(fileMode); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return f, nil
}

// Exists follows symlinks, so a dangling link does not exist.
func (osFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osFS) IsSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&fs.ModeSymlink != 0
}

func (osFS) ReplaceSymlink(target, newname string) error {
	return renameio.Symlink(target, newname)
}

// RemoveAll deletes a tree that may contain write protected files; on
// permission errors the parent directories are made writable and the
// removal retried once.
func (f osFS) RemoveAll(path string) error {
	err := os.RemoveAll(path)
	if err == nil || !errors.Is(err, fs.ErrPermission) {
		return err
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(p, 0o755)
		}
		return nil
	})
	return os.RemoveAll(path)
}

func (f osFS) CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	t, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := t.Cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(t, in); err != nil {
		return err
	}
	if err = t.Chmod(0o644); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func (osFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

func (osFS) Lock(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, fi.Mode().Perm()&^writeBits)
}

func (osFS) Unlock(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, fi.Mode().Perm()|0o220)
}

func (osFS) Writable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().Perm()&writeBits != 0
}
