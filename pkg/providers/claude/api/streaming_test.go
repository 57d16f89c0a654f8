package api

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventReaderSkipsNonDataLines(t *testing.T) {
	body := strings.Join([]string{
		"event: message_start",
		`data: {"type":"message_start","message":{"id":"msg_1","model":"claude"}}`,
		"",
		": keepalive comment",
		"data: not json",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
		`data: {"type":"message_stop"}`,
	}, "\n")

	r := NewEventReader(strings.NewReader(body))

	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, MessageStartType, e.Type)
	require.NotNil(t, e.Message)
	assert.Equal(t, "msg_1", e.Message.ID)

	e, err = r.Next()
	require.NoError(t, err)
	text, ok := e.TextDelta()
	assert.True(t, ok)
	assert.Equal(t, "Hi", text)

	// last line has no trailing newline
	e, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, MessageStopType, e.Type)
	_, ok = e.TextDelta()
	assert.False(t, ok)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}
