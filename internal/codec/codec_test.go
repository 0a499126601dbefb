package codec

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReadFrame_Basic(t *testing.T) {
	r := NewReader(strings.NewReader("{\"a\":1}\n{\"b\":2}\n"))

	f1, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(f1))

	f2, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(f2))

	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_ReadFrame_OversizeResyncs(t *testing.T) {
	oversize := strings.Repeat("x", MaxFrameBytes+100)
	stream := oversize + "\n{\"ok\":true}\n"
	r := NewReader(strings.NewReader(stream))

	_, err := r.ReadFrame()
	var oversizeErr *ErrOversizeFrame
	require.ErrorAs(t, err, &oversizeErr)

	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(f))
}

func TestReader_ReadFrame_TrimsCRLF(t *testing.T) {
	r := NewReader(strings.NewReader("hello\r\n"))
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(f))
}

func TestWriter_WriteFrame_AppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame([]byte(`{"x":1}`)))
	assert.Equal(t, "{\"x\":1}\n", buf.String())
}

func TestWriter_WriteFrame_NoInterleaving(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(n int) {
			_ = w.WriteFrame([]byte(strings.Repeat("a", n+1)))
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 20)
}
