package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type StreamingEventType string

const (
	PingType              StreamingEventType = "ping"
	MessageStartType      StreamingEventType = "message_start"
	ContentBlockStartType StreamingEventType = "content_block_start"
	ContentBlockDeltaType StreamingEventType = "content_block_delta"
	ContentBlockStopType  StreamingEventType = "content_block_stop"
	MessageDeltaType      StreamingEventType = "message_delta"
	MessageStopType       StreamingEventType = "message_stop"
	ErrorType             StreamingEventType = "error"
)

type StreamingDeltaType string

const (
	TextDeltaType StreamingDeltaType = "text_delta"
)

type StreamingEvent struct {
	Type         StreamingEventType `json:"type"`
	Message      *MessageResponse   `json:"message,omitempty"`
	Delta        *Delta             `json:"delta,omitempty"`
	Error        *Error             `json:"error,omitempty"`
	Index        int                `json:"index,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
	ContentBlock *ContentBlock      `json:"content_block,omitempty"`
}

func (s StreamingEvent) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(s.Type))
	if s.Message != nil {
		e.Object("message", s.Message)
	}
	if s.Delta != nil {
		e.Object("delta", s.Delta)
	}
	if s.Error != nil {
		e.Object("error", s.Error)
	}
	if s.Index != 0 {
		e.Int("index", s.Index)
	}
	if s.Usage != nil {
		e.Object("usage", s.Usage)
	}
	if s.ContentBlock != nil {
		e.Object("content_block", s.ContentBlock)
	}
}

var _ zerolog.LogObjectMarshaler = StreamingEvent{}

// TextDelta returns the text carried by a content_block_delta event.
func (s StreamingEvent) TextDelta() (string, bool) {
	if s.Type != ContentBlockDeltaType || s.Delta == nil || s.Delta.Text == "" {
		return "", false
	}
	return s.Delta.Text, true
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (err Error) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", err.Type)
	e.Str("message", err.Message)
}

type Delta struct {
	Type         StreamingDeltaType `json:"type"`
	Text         string             `json:"text,omitempty"`
	StopReason   string             `json:"stop_reason,omitempty"`
	StopSequence string             `json:"stop_sequence,omitempty"`
}

func (d Delta) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(d.Type))
	if d.Text != "" {
		e.Str("text", d.Text)
	}
	if d.StopReason != "" {
		e.Str("stop_reason", d.StopReason)
	}
}

var dataPrefix = []byte("data: ")

// EventReader pulls SSE events off a response body one line at a time. Only
// "data: " lines are decoded; event names, comments and blank lines are
// skipped, as are data lines that are not JSON.
type EventReader struct {
	reader *bufio.Reader
	count  int
}

func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{reader: bufio.NewReader(r)}
}

// Next returns the next decoded event, or io.EOF when the body is exhausted.
func (r *EventReader) Next() (*StreamingEvent, error) {
	for {
		line, err := r.reader.ReadBytes('\n')
		if len(line) > 0 {
			if event, ok := r.parseLine(line); ok {
				return event, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				log.Debug().Int("total_events_processed", r.count).Msg("Streaming reader finished")
			}
			return nil, err
		}
	}
}

func (r *EventReader) parseLine(line []byte) (*StreamingEvent, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	var event StreamingEvent
	if err := json.Unmarshal(line[len(dataPrefix):], &event); err != nil {
		log.Debug().Err(err).Msg("Failed to parse SSE event")
		return nil, false
	}
	r.count++
	log.Trace().Object("event", event).Int("event_number", r.count).Msg("Parsed streaming event")
	return &event, true
}
