package depot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aweris/gitbig/internal/errors"
	"github.com/spf13/afero"
)

// metaSuffix names the sidecar holding a blob's metadata.
const metaSuffix = ".meta"

// Local is a Backend over an afero filesystem. It serves file:// depots and
// tests.
type Local struct {
	fs   afero.Fs
	name string
}

// NewLocal returns a Backend storing objects in fs.
func NewLocal(fs afero.Fs, name string) *Local {
	return &Local{fs: fs, name: name}
}

type sidecar struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (l *Local) HasObject(ctx context.Context, p string) (int64, bool, error) {
	fi, err := l.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, errors.ErrStorageAPI.Wrap(err)
	}
	if fi.IsDir() {
		return 0, false, nil
	}
	return fi.Size(), true, nil
}

func (l *Local) GetFile(ctx context.Context, p, dest string) (err error) {
	in, err := l.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ErrNotExists.Wrap(err)
		}
		return errors.ErrStorageAPI.Wrap(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.ErrIO.Wrap(cerr)
		}
	}()

	if _, err := io.Copy(out, readerWithContext(ctx, in)); err != nil {
		return fmt.Errorf("failed to copy %s: %w", p, err)
	}
	return nil
}

func (l *Local) PutFile(ctx context.Context, p, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.ErrIO.Wrap(err)
	}
	defer in.Close()
	return l.write(p, readerWithContext(ctx, in))
}

func (l *Local) GetBlob(ctx context.Context, p string) (*Blob, bool, error) {
	data, err := afero.ReadFile(l.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.ErrStorageAPI.Wrap(err)
	}
	fi, err := l.fs.Stat(p)
	if err != nil {
		return nil, false, errors.ErrStorageAPI.Wrap(err)
	}

	b := &Blob{Data: data, Metadata: map[string]string{}, LastModified: fi.ModTime().UTC()}
	raw, err := afero.ReadFile(l.fs, p+metaSuffix)
	if err == nil {
		var sc sidecar
		if err := json.Unmarshal(raw, &sc); err != nil {
			return nil, false, fmt.Errorf("failed to parse metadata of %s: %w", p, err)
		}
		if sc.Metadata != nil {
			b.Metadata = sc.Metadata
		}
	} else if !os.IsNotExist(err) {
		return nil, false, errors.ErrStorageAPI.Wrap(err)
	}
	return b, true, nil
}

func (l *Local) PutBlob(ctx context.Context, p string, data []byte, metadata map[string]string) error {
	raw, err := json.Marshal(sidecar{Metadata: metadata})
	if err != nil {
		return err
	}
	if err := l.write(p+metaSuffix, bytesReader(raw)); err != nil {
		return err
	}
	if err := l.write(p, bytesReader(data)); err != nil {
		return err
	}
	now := time.Now()
	return l.fs.Chtimes(p, now, now)
}

func (l *Local) DeleteBlob(ctx context.Context, p string) error {
	for _, name := range []string{p, p + metaSuffix} {
		if err := l.fs.Remove(name); err != nil && !os.IsNotExist(err) {
			return errors.ErrStorageAPI.Wrap(fmt.Errorf("removing %q: %w", name, err))
		}
	}
	return nil
}

func (l *Local) String() string {
	return "file://" + l.name
}

// write stages r next to p and renames it into place.
func (l *Local) write(p string, r io.Reader) (err error) {
	if err := l.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return errors.ErrStorageAPI.Wrap(fmt.Errorf("ensuring directories for %q: %w", p, err))
	}
	tmp, err := afero.TempFile(l.fs, path.Dir(p), ".put-stage-")
	if err != nil {
		return errors.ErrStorageAPI.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = l.fs.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write record for %q: %w", p, err)
	}
	if err = tmp.Close(); err != nil {
		return errors.ErrStorageAPI.Wrap(err)
	}
	if err = l.fs.Rename(tmp.Name(), p); err != nil {
		return errors.ErrStorageAPI.Wrap(err)
	}
	return nil
}
