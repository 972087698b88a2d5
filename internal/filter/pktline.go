package filter

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/aweris/gitbig/internal/errors"
)

const (
	// MaxPacketLen is the largest packet, header included.
	MaxPacketLen = 65520
	// MaxDataLen is the largest payload of one packet.
	MaxDataLen = MaxPacketLen - 4

	headerLen = 4
)

var flushPacket = []byte("0000")

// Reader decodes pkt-line framed input.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, MaxPacketLen)}
}

// ReadPacket returns the next payload. flush is true for a flush packet.
// io.EOF is returned only when the input ends on a packet boundary.
func (r *Reader) ReadPacket() (data []byte, flush bool, err error) {
	var header [headerLen]byte
	n, err := io.ReadFull(r.r, header[:])
	if err == io.EOF {
		return nil, false, io.EOF
	}
	if err != nil {
		return nil, false, errors.ErrProtocol.Wrap(fmt.Errorf("short packet header (%d bytes): %w", n, err))
	}

	size, err := strconv.ParseUint(string(header[:]), 16, 16)
	if err != nil {
		return nil, false, errors.ErrProtocol.Wrap(fmt.Errorf("invalid packet length %q", header[:]))
	}
	switch {
	case size == 0:
		return nil, true, nil
	case size < headerLen || size > MaxPacketLen:
		return nil, false, errors.ErrProtocol.Wrap(fmt.Errorf("invalid packet length %d", size))
	}

	data = make([]byte, size-headerLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, false, errors.ErrProtocol.Wrap(fmt.Errorf("truncated packet: %w", err))
	}
	return data, false, nil
}

// ReadLines reads text packets up to the next flush, stripping one trailing
// newline from each.
func (r *Reader) ReadLines() ([]string, error) {
	var lines []string
	for {
		data, flush, err := r.ReadPacket()
		if err != nil {
			if err == io.EOF && len(lines) > 0 {
				return nil, errors.ErrProtocol.Wrap(io.ErrUnexpectedEOF)
			}
			return nil, err
		}
		if flush {
			return lines, nil
		}
		lines = append(lines, string(bytes.TrimSuffix(data, []byte("\n"))))
	}
}

// CopyUntilFlush writes every payload up to the next flush to w.
func (r *Reader) CopyUntilFlush(w io.Writer) (int64, error) {
	var n int64
	for {
		data, flush, err := r.ReadPacket()
		if err == io.EOF {
			return n, errors.ErrProtocol.Wrap(io.ErrUnexpectedEOF)
		}
		if err != nil {
			return n, err
		}
		if flush {
			return n, nil
		}
		m, err := w.Write(data)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
}

// ReadUntilFlush returns the concatenated payloads up to the next flush.
func (r *Reader) ReadUntilFlush() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := r.CopyUntilFlush(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Writer encodes pkt-line framed output. Output is buffered until Flush.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, MaxPacketLen)}
}

// WritePacket frames data as one packet.
func (w *Writer) WritePacket(data []byte) error {
	if len(data) > MaxDataLen {
		return errors.ErrProtocol.Wrap(fmt.Errorf("packet payload of %d bytes exceeds %d", len(data), MaxDataLen))
	}
	if _, err := fmt.Fprintf(w.w, "%04x", len(data)+headerLen); err != nil {
		return err
	}
	_, err := w.w.Write(data)
	return err
}

// WriteLine writes s as a newline terminated text packet.
func (w *Writer) WriteLine(s string) error {
	return w.WritePacket([]byte(s + "\n"))
}

// WriteData splits data over as many packets as needed.
func (w *Writer) WriteData(data []byte) error {
	for len(data) > 0 {
		n := min(len(data), MaxDataLen)
		if err := w.WritePacket(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// WriteFrom streams r as data packets.
func (w *Writer) WriteFrom(r io.Reader) error {
	buf := make([]byte, MaxDataLen)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := w.WritePacket(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return errors.ErrIO.Wrap(err)
		}
	}
}

// Flush writes a flush packet and pushes buffered output downstream.
func (w *Writer) Flush() error {
	if _, err := w.w.Write(flushPacket); err != nil {
		return err
	}
	return w.w.Flush()
}
