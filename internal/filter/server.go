// Package filter implements the long running git filter process
// ("filter.<driver>.process") for tracked files.
//
// The session is a handshake, a capability exchange and then one exchange per
// file until git closes the pipe:
//
//	git> git-filter-client, version=2, flush
//	git< git-filter-server, version=2, flush
//	git> capability=clean, capability=smudge, flush
//	git< capability=clean, capability=smudge, flush
//	git> command=clean, pathname=<path>, flush, <content>, flush
//	git< status=success, flush, <output>, flush, flush
//
// Framing errors and broken pipes end the session; failures on a single file
// are reported to git with status=error and the session continues.
package filter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aweris/gitbig/internal/digest"
	"github.com/aweris/gitbig/internal/entry"
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aweris/gitbig/internal/fsys"
	"github.com/aweris/gitbig/internal/tier"
	"go.uber.org/zap"
)

const (
	clientID = "git-filter-client"
	serverID = "git-filter-server"
	version  = "2"

	commandClean  = "clean"
	commandSmudge = "smudge"
)

var capabilities = []string{commandClean, commandSmudge}

// Server answers one filter session.
type Server struct {
	fs     fsys.Filesystem
	layout entry.Layout
	tmpDir string
	chain  *tier.Chain
	l      *zap.Logger
}

// NewServer returns a Server storing cleaned content in the cache described
// by layout, staging uploads from git in tmpDir.
func NewServer(f fsys.Filesystem, layout entry.Layout, tmpDir string, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		fs:     f,
		layout: layout,
		tmpDir: tmpDir,
		chain:  tier.NewChain(tier.NewWorking(f, tier.WithWorkingLogger(l)), tier.NewCache(f)),
		l:      l,
	}
}

// Serve runs the session until in is exhausted.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	r := NewReader(in)
	w := NewWriter(out)

	if err := s.handshake(r, w); err != nil {
		return err
	}
	if err := s.negotiate(r, w); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		lines, err := r.ReadLines()
		if err == io.EOF {
			s.l.Debug("filter session closed")
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.command(ctx, lines, r, w); err != nil {
			return err
		}
	}
}

func (s *Server) handshake(r *Reader, w *Writer) error {
	lines, err := r.ReadLines()
	if err == io.EOF {
		return errors.ErrProtocol.Wrap(io.ErrUnexpectedEOF)
	}
	if err != nil {
		return err
	}
	s.l.Debug("handshake", zap.Strings("lines", lines))

	if len(lines) == 0 || lines[0] != clientID {
		return s.reject(w, fmt.Errorf("expected %s", clientID))
	}
	supported := false
	for _, line := range lines[1:] {
		if key, value, _ := strings.Cut(line, "="); key == "version" && value == version {
			supported = true
		}
	}
	if !supported {
		return s.reject(w, fmt.Errorf("client does not speak version %s", version))
	}

	if err := w.WriteLine(serverID); err != nil {
		return err
	}
	if err := w.WriteLine("version=" + version); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) reject(w *Writer, cause error) error {
	if err := w.WriteLine("status=error"); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return errors.ErrProtocol.Wrap(cause)
}

// negotiate advertises the capabilities both sides support.
func (s *Server) negotiate(r *Reader, w *Writer) error {
	lines, err := r.ReadLines()
	if err == io.EOF {
		return errors.ErrProtocol.Wrap(io.ErrUnexpectedEOF)
	}
	if err != nil {
		return err
	}
	offered := map[string]bool{}
	for _, line := range lines {
		if key, value, _ := strings.Cut(line, "="); key == "capability" {
			offered[value] = true
		}
	}
	s.l.Debug("capabilities", zap.Strings("offered", lines))

	for _, c := range capabilities {
		if !offered[c] {
			continue
		}
		if err := w.WriteLine("capability=" + c); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (s *Server) command(ctx context.Context, lines []string, r *Reader, w *Writer) error {
	var command, pathname string
	for _, line := range lines {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return errors.ErrProtocol.Wrap(fmt.Errorf("malformed header %q", line))
		}
		switch key {
		case "command":
			command = value
		case "pathname":
			pathname = value
		}
	}
	if command == "" || pathname == "" {
		return errors.ErrProtocol.Wrap(fmt.Errorf("command and pathname are required, got %q", lines))
	}
	s.l.Debug("command", zap.String("command", command), zap.String("pathname", pathname))

	var (
		output io.ReadCloser
		err    error
	)
	switch command {
	case commandClean:
		output, err = s.clean(ctx, pathname, r)
	case commandSmudge:
		output, err = s.smudge(r)
	default:
		if _, err := r.CopyUntilFlush(io.Discard); err != nil {
			return err
		}
		err = errors.ErrUsage.Wrap(fmt.Errorf("unsupported command %q", command))
	}
	if errors.Is(err, errors.ErrProtocol) {
		return err
	}
	if err != nil {
		s.l.Warn("filter failed", zap.String("command", command), zap.String("pathname", pathname), zap.Error(err))
		if err := w.WriteLine("status=error"); err != nil {
			return err
		}
		return w.Flush()
	}
	defer output.Close()

	if err := w.WriteLine("status=success"); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.WriteFrom(output); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return w.Flush()
}

// stickyWriter keeps accepting writes after a failure so the packet stream
// can be drained; the first error is kept.
type stickyWriter struct {
	w   io.Writer
	err error
}

func (s *stickyWriter) Write(p []byte) (int, error) {
	if s.err == nil {
		_, s.err = s.w.Write(p)
	}
	return len(p), nil
}

// clean stores the content in the cache and answers with its digest. When
// the working file still holds the same bytes it is replaced by a link.
func (s *Server) clean(ctx context.Context, pathname string, r *Reader) (io.ReadCloser, error) {
	var sink io.Writer = io.Discard
	tmp, terr := s.createTemp()
	if terr == nil {
		sink = tmp
	}
	h := digest.NewHasher()
	sw := &stickyWriter{w: sink}
	if _, err := r.CopyUntilFlush(io.MultiWriter(h, sw)); err != nil {
		if tmp != nil {
			_ = tmp.Close()
			_ = s.fs.Remove(tmp.Name())
		}
		return nil, err
	}
	if terr != nil {
		return nil, errors.ErrIO.Wrap(terr)
	}

	tmpPath := tmp.Name()
	defer func() {
		if s.fs.Exists(tmpPath) {
			_ = s.fs.Remove(tmpPath)
		}
	}()
	if err := tmp.Close(); err != nil && sw.err == nil {
		sw.err = err
	}
	if sw.err != nil {
		return nil, errors.ErrIO.Wrap(sw.err)
	}

	d := h.Digest()
	e := s.layout.Entry(path.Clean(pathname), d)
	if !s.fs.Exists(e.CachePath) {
		if err := s.fs.MkdirAll(filepath.Dir(e.CachePath)); err != nil {
			return nil, errors.ErrIO.Wrap(err)
		}
		if err := s.fs.Rename(tmpPath, e.CachePath); err != nil {
			return nil, errors.ErrIO.Wrap(err)
		}
		if err := s.fs.Lock(e.CachePath); err != nil {
			return nil, errors.ErrIO.Wrap(err)
		}
	}

	if err := s.replaceWorking(ctx, e); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(string(d))), nil
}

func (s *Server) replaceWorking(ctx context.Context, e *entry.Entry) error {
	fi, err := s.fs.Lstat(e.WorkingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.ErrIO.Wrap(err)
	}
	if fi.Mode().IsRegular() {
		current, err := digest.File(e.WorkingPath)
		if err != nil {
			return err
		}
		if current != e.Digest {
			s.l.Debug("working file changed since staging", zap.String("path", e.RelPath))
			return nil
		}
		return s.chain.Put(ctx, e)
	}
	return s.chain.Get(ctx, e)
}

// smudge answers with the cached content of a digest pointer, or echoes
// the content when it is not a pointer to a cached object.
func (s *Server) smudge(r *Reader) (io.ReadCloser, error) {
	data, err := r.ReadUntilFlush()
	if err != nil {
		return nil, err
	}
	if ptr := strings.TrimSpace(string(data)); digest.Valid(ptr) {
		p := s.layout.ObjectPath(digest.Digest(ptr))
		if s.fs.Exists(p) {
			f, err := s.fs.Open(p)
			if err != nil {
				return nil, errors.ErrIO.Wrap(err)
			}
			return f, nil
		}
		s.l.Debug("object not cached, passing pointer through", zap.String("digest", ptr))
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (s *Server) createTemp() (*os.File, error) {
	if err := s.fs.MkdirAll(s.tmpDir); err != nil {
		return nil, err
	}
	return s.fs.CreateTemp(s.tmpDir, "clean-*")
}
