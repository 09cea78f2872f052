package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func TestHeaderStream_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s := NewHeaderStreamFrom(&buf, &buf, nopCloser{})

	require.NoError(t, s.WriteMessage([]byte(`{"a":1}`)))
	require.NoError(t, s.WriteMessage([]byte(`{"b":"two"}`)))
	assert.Equal(t, "Content-Length: 7\r\n\r\n{\"a\":1}Content-Length: 11\r\n\r\n{\"b\":\"two\"}", buf.String())

	first, err := s.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(first))

	second, err := s.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"b":"two"}`, string(second))

	_, err = s.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestHeaderStream_Headers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		errCode int
	}{
		{
			name:  "case insensitive with content type",
			input: "content-length: 2\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n{}",
			want:  "{}",
		},
		{
			name:  "bare newlines",
			input: "Content-Length: 2\n\n[]",
			want:  "[]",
		},
		{
			name:    "missing length",
			input:   "Content-Type: x\r\n\r\n{}",
			errCode: ParseErrorCode,
		},
		{
			name:    "invalid length",
			input:   "Content-Length: abc\r\n\r\n{}",
			errCode: ParseErrorCode,
		},
		{
			name:    "malformed header",
			input:   "garbage\r\n\r\n{}",
			errCode: ParseErrorCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHeaderStreamFrom(bytes.NewBufferString(tt.input), io.Discard, nil)
			msg, err := s.ReadMessage()
			if tt.errCode != 0 {
				assert.Equal(t, tt.errCode, ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(msg))
		})
	}
}

func TestHeaderStream_TruncatedBody(t *testing.T) {
	s := NewHeaderStreamFrom(bytes.NewBufferString("Content-Length: 10\r\n\r\n{}"), io.Discard, nil)
	_, err := s.ReadMessage()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
