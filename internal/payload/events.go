package payload

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type EventKind int

const (
	// EventProgress carries Progress and Message.
	EventProgress EventKind = iota
	// EventError carries the installer's terminal error in Message.
	EventError
	// EventInvalid is a JSON object that is neither progress nor error.
	EventInvalid
	// EventText is any line that is not a JSON object.
	EventText
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventInvalid:
		return "invalid"
	case EventText:
		return "text"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type Event struct {
	Kind     EventKind
	Progress float64
	Message  string
	// Line is the raw line, newline included when one was read.
	Line string
}

// EventReader lazily decodes installer output, one event per line.
type EventReader struct {
	r *bufio.Reader
}

func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF once the stream is exhausted.
func (er *EventReader) Next() (Event, error) {
	line, err := er.r.ReadString('\n')
	if line == "" {
		if err == nil {
			err = io.EOF
		}
		return Event{}, err
	}
	return ParseEvent(strings.ToValidUTF8(line, "")), nil
}

// ParseEvent classifies one line of installer output.
func ParseEvent(line string) Event {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &obj); err != nil || obj == nil {
		return Event{Kind: EventText, Line: line}
	}
	rawProgress, hasProgress := obj["progress"]
	rawMessage, hasMessage := obj["message"]
	if hasProgress && hasMessage {
		ev := Event{Kind: EventProgress, Line: line}
		if json.Unmarshal(rawProgress, &ev.Progress) == nil && json.Unmarshal(rawMessage, &ev.Message) == nil {
			return ev
		}
		return Event{Kind: EventInvalid, Line: line}
	}
	if rawErr, ok := obj["error"]; ok {
		var msg string
		if json.Unmarshal(rawErr, &msg) != nil {
			msg = string(rawErr)
		}
		return Event{Kind: EventError, Message: msg, Line: line}
	}
	return Event{Kind: EventInvalid, Line: line}
}
