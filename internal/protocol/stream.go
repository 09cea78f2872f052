package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MessageStream reads and writes whole messages
type MessageStream interface {
	// ReadMessage returns the next message; the bytes must not be retained after the next call.
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	io.Closer
}

// maxContentLength bounds a single framed message
const maxContentLength = 64 << 20

type headerStream struct {
	r *bufio.Reader
	w io.Writer
	c io.Closer
}

// NewHeaderStream frames messages with a Content-Length header over rwc
func NewHeaderStream(rwc io.ReadWriteCloser) MessageStream {
	return NewHeaderStreamFrom(rwc, rwc, rwc)
}

// NewHeaderStreamFrom frames messages over separate reader and writer, such as a process stdio
func NewHeaderStreamFrom(r io.Reader, w io.Writer, c io.Closer) MessageStream {
	return &headerStream{r: bufio.NewReader(r), w: w, c: c}
}

func (s *headerStream) ReadMessage() ([]byte, error) {
	length := -1
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && length < 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				return nil, NewError(ParseErrorCode, "missing Content-Length header")
			}
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, NewError(ParseErrorCode, "malformed header %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 || n > maxContentLength {
				return nil, NewError(ParseErrorCode, "invalid Content-Length %q", value)
			}
			length = n
		}
	}

	msg := make([]byte, length)
	if _, err := io.ReadFull(s.r, msg); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return msg, nil
}

func (s *headerStream) WriteMessage(msg []byte) error {
	frame := make([]byte, 0, len(msg)+32)
	frame = append(frame, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(msg))...)
	frame = append(frame, msg...)
	_, err := s.w.Write(frame)
	return err
}

func (s *headerStream) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
