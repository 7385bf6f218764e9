package overlayfs

import (
	"os"
	"time"

	"github.com/spf13/afero"
)

// Overlay reads from top first, falling back to bottom on os.ErrNotExist.
// It only supports readable filesystems (spec.md §4.3).
type Overlay struct {
	Top    afero.Fs
	Bottom afero.Fs
}

func New(top, bottom afero.Fs) *Overlay { return &Overlay{Top: top, Bottom: bottom} }

func (o *Overlay) Name() string { return "carton.overlayfs.Overlay" }

func (o *Overlay) Open(name string) (afero.File, error) {
	f, err := o.Top.Open(name)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	return o.Bottom.Open(name)
}

func (o *Overlay) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return o.Open(name)
}

func (o *Overlay) Stat(name string) (os.FileInfo, error) {
	fi, err := o.Top.Stat(name)
	if err == nil {
		return fi, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	return o.Bottom.Stat(name)
}

func (o *Overlay) Create(name string) (afero.File, error)            { return nil, afero.ErrFileNotFound }
func (o *Overlay) Mkdir(name string, perm os.FileMode) error         { return afero.ErrFileNotFound }
func (o *Overlay) MkdirAll(path string, perm os.FileMode) error      { return afero.ErrFileNotFound }
func (o *Overlay) Remove(name string) error                          { return afero.ErrFileNotFound }
func (o *Overlay) RemoveAll(path string) error                       { return afero.ErrFileNotFound }
func (o *Overlay) Rename(oldname, newname string) error              { return afero.ErrFileNotFound }
func (o *Overlay) Chmod(name string, mode os.FileMode) error         { return afero.ErrFileNotFound }
func (o *Overlay) Chown(name string, uid, gid int) error             { return afero.ErrFileNotFound }
func (o *Overlay) Chtimes(name string, atime, mtime time.Time) error { return afero.ErrFileNotFound }
