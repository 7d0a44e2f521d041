package executor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// DefaultGrowth is the factor a source buffer grows by when a read fills it.
const DefaultGrowth = 1.5

var (
	// ErrSourceFreed is returned when a freed source is used or freed again.
	ErrSourceFreed = errors.New("source already freed")

	// ErrSourceRead is returned when reading does not cleanly reach EOF.
	ErrSourceRead = errors.New("read source")
)

// zstdMagic prefixes zstd-compressed contract files.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Source is an owned script buffer. The content is followed by a single NUL
// sentinel. It is read once, shared read-only by every execution context
// of an invocation, and freed exactly once after all of them finish.
type Source struct {
	buf   []byte
	n     int
	freed atomic.Bool
}

// NewSource copies data into a new Source.
func NewSource(data []byte) *Source {
	buf := make([]byte, len(data)+1)
	copy(buf, data)
	return &Source{buf: buf, n: len(data)}
}

// ReadSource reads the file at path. zstd-compressed files are decompressed.
func ReadSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file %s not found: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSourceRead, path, err)
	}

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(len(zstdMagic)); bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrSourceRead, path, err)
		}
		defer dec.Close()
		r = dec
	}

	src, err := ReadSourceFrom(r, info.Size(), DefaultGrowth)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSourceRead, path, err)
	}
	return src, nil
}

// ReadSourceFrom reads r to EOF into a buffer of sizeHint+1 bytes, growing
// it by growth whenever fewer than two bytes remain free.
func ReadSourceFrom(r io.Reader, sizeHint int64, growth float64) (*Source, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	if growth <= 1 {
		growth = DefaultGrowth
	}

	buf := make([]byte, sizeHint+1)
	idx := 0
	for {
		n, err := r.Read(buf[idx:])
		idx += n
		if len(buf)-idx <= 1 {
			buf = grow(buf, idx, growth)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	buf[idx] = 0
	return &Source{buf: buf, n: idx}, nil
}

func grow(buf []byte, used int, growth float64) []byte {
	size := int(float64(len(buf)) * growth)
	if size < used+2 {
		size = used + 2
	}
	next := make([]byte, size)
	copy(next, buf[:used])
	return next
}

// Bytes returns the logical content without the sentinel. Callers must not
// modify it. It returns nil once the source is freed.
func (s *Source) Bytes() []byte {
	if s.freed.Load() {
		return nil
	}
	return s.buf[:s.n]
}

// Raw returns the content followed by the NUL sentinel.
func (s *Source) Raw() []byte {
	if s.freed.Load() {
		return nil
	}
	return s.buf[:s.n+1]
}

// Len returns the logical content length.
func (s *Source) Len() int {
	return s.n
}

// Cap returns the size of the underlying buffer.
func (s *Source) Cap() int {
	return len(s.buf)
}

// Free releases the buffer. A second call returns ErrSourceFreed.
func (s *Source) Free() error {
	if s.freed.Swap(true) {
		return ErrSourceFreed
	}
	s.buf = nil
	return nil
}

// Freed reports whether Free has been called.
func (s *Source) Freed() bool {
	return s.freed.Load()
}
