// Package protocol reads and writes whole codec frames on a byte stream.
//
// TCP is a byte stream, so one Read is not guaranteed to return one frame. The reader
// takes the fixed 8-byte header first, works out the frame size from the declared lengths,
// then reads exactly that many more bytes. The complete frame is handed back unparsed so
// the codec package stays the only place that interprets it.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"node-rpc/codec"
)

// DefaultMaxFrameSize is the largest frame accepted when no limit is configured.
const DefaultMaxFrameSize = 1024

// ErrFrameTooLarge is returned when a header declares more bytes than the reader accepts.
// The rest of the frame is left unread, so the stream can't be used afterwards.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")

// ErrIncompleteFrame is returned when a frame was started but its declared bytes never
// all arrived, because the stream ended or the frame deadline passed.
var ErrIncompleteFrame = errors.New("protocol: incomplete frame")

// Conn is a stream whose reads can be bounded by a deadline, such as a net.Conn.
type Conn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ReadRequest reads one complete request frame from r.
// io.EOF is returned only when the stream ended before any byte of the frame.
func ReadRequest(r io.Reader, max int) ([]byte, error) {
	return read(r, max, codec.RequestFrameSize)
}

// ReadResponse reads one complete response frame from r.
func ReadResponse(r io.Reader, max int) ([]byte, error) {
	return read(r, max, codec.ResponseFrameSize)
}

// ReadRequestWithin reads one request frame from c. It waits as long as it takes for the
// frame's first byte, then allows timeout for the rest; 0 means no limit. A frame cut
// short is reported as ErrIncompleteFrame.
func ReadRequestWithin(c Conn, max int, timeout time.Duration) ([]byte, error) {
	if err := c.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	first := make([]byte, 1)
	if _, err := io.ReadFull(c, first); err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}

	frame, err := ReadRequest(io.MultiReader(bytes.NewReader(first), c), max)
	if err != nil {
		return frame, incomplete(err)
	}
	return frame, nil
}

// incomplete maps the errors of a frame that stopped part way to ErrIncompleteFrame.
func incomplete(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrIncompleteFrame, err)
	}
	return err
}

func read(r io.Reader, max int, size func([]byte) (uint64, error)) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}

	// Step 1: fixed header
	hdr := make([]byte, codec.HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}

	// Step 2: declared size, bounded before anything is allocated
	total, err := size(hdr)
	if err != nil {
		return nil, err
	}
	if total > uint64(max) {
		return hdr, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, total, max)
	}

	// Step 3: exactly the remaining bytes
	frame := make([]byte, total)
	copy(frame, hdr)
	if _, err := io.ReadFull(r, frame[codec.HeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// Write writes a whole frame to w. A short write is reported as io.ErrShortWrite.
// Callers sharing w between goroutines must serialize calls themselves.
func Write(w io.Writer, frame []byte) error {
	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}
