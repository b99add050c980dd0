// Package transport frames protocol envelopes over a byte stream, one envelope per line.
package transport

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("transport closed")

// Conn reads and writes newline-delimited envelopes.
// Read must be called from a single goroutine, Write is safe for concurrent use.
type Conn struct {
	r *bufio.Reader
	w io.Writer

	wmu    sync.Mutex
	closed bool

	closeOnce sync.Once
	closers   []io.Closer
}

// NewConn returns a connection over r and w.
// Close closes r and w when they implement io.Closer.
func NewConn(r io.Reader, w io.Writer) *Conn {
	c := &Conn{
		r: bufio.NewReader(r),
		w: w,
	}
	if cl, ok := w.(io.Closer); ok {
		c.closers = append(c.closers, cl)
	}
	if cl, ok := r.(io.Closer); ok {
		c.closers = append(c.closers, cl)
	}
	return c
}

// Pipe returns two connected in-memory connections.
func Pipe() (*Conn, *Conn) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return NewConn(r1, w2), NewConn(r2, w1)
}

// Read returns the next envelope, skipping blank lines.
// A malformed line is returned as *protocol.ParseError and the connection
// remains usable. io.EOF is returned at the end of the stream.
func (c *Conn) Read() (*protocol.Envelope, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		// a final line without a newline is still an envelope
		env, derr := protocol.Decode(line)
		if derr != nil {
			return nil, derr
		}
		return env, nil
	}
}

// Write encodes and writes one envelope atomically with respect to other writers.
func (c *Conn) Write(e *protocol.Envelope) error {
	line, err := protocol.Encode(e)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, err = c.w.Write(line); err != nil {
		return errors.Wrap(err, "failed to write envelope")
	}
	return nil
}

// Close closes the underlying reader and writer.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// closing first unblocks a writer stuck on a full pipe
		for _, cl := range c.closers {
			if cerr := cl.Close(); cerr != nil && err == nil && !errors.Is(cerr, os.ErrClosed) {
				err = cerr
			}
		}
		c.wmu.Lock()
		c.closed = true
		c.wmu.Unlock()
	})
	return err
}
