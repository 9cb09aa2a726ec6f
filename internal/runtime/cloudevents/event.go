// Package cloudevents implements the CloudEvents v1.0 JSON envelope used when
// bus messages are bridged to brokers shared with non-sparked consumers. The
// event type carries the bus subject.
package cloudevents

import (
	"errors"
	"fmt"
	"time"

	idspkg "github.com/drblury/sparked/internal/runtime/ids"
	"github.com/drblury/sparked/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// ContentTypeJSON is set as datacontenttype by New.
const ContentTypeJSON = "application/json"

// ErrInvalidEvent is wrapped by every validation and decoding failure.
var ErrInvalidEvent = errors.New("sparked: invalid cloudevent")

// Event is a CloudEvents v1.0 event in structured JSON mode.
type Event struct {
	SpecVersion     string
	Type            string
	Source          string
	ID              string
	Time            time.Time
	DataContentType string
	Subject         string
	Data            any

	// Extensions are flattened into the top-level JSON object.
	Extensions map[string]any
}

// New creates an event with a fresh ULID and the current time.
func New(eventType, source string, data any) Event {
	return Event{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		ID:              idspkg.CreateULID(),
		Time:            Now(),
		DataContentType: ContentTypeJSON,
		Data:            data,
	}
}

// WithExtension returns a copy of e with the extension attribute set.
func (e Event) WithExtension(name string, value any) Event {
	ext := make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		ext[k] = v
	}
	ext[name] = value
	e.Extensions = ext
	return e
}

// Extension returns an extension as a string, or "" when it is missing or not
// a string.
func (e Event) Extension(name string) string {
	s, _ := e.Extensions[name].(string)
	return s
}

// Validate checks the required attributes and extension names.
func (e Event) Validate() error {
	switch {
	case e.SpecVersion != SpecVersion:
		return fmt.Errorf("%w: specversion must be %q, got %q", ErrInvalidEvent, SpecVersion, e.SpecVersion)
	case e.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidEvent)
	case e.Source == "":
		return fmt.Errorf("%w: source is required", ErrInvalidEvent)
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	for name := range e.Extensions {
		if !validExtensionName(name) {
			return fmt.Errorf("%w: extension name %q", ErrInvalidEvent, name)
		}
	}
	return nil
}

var contextAttributes = map[string]struct{}{
	"specversion":     {},
	"type":            {},
	"source":          {},
	"id":              {},
	"time":            {},
	"datacontenttype": {},
	"subject":         {},
	"data":            {},
}

// validExtensionName reports whether name is lower-case ASCII letters and
// digits and does not shadow a context attribute.
func validExtensionName(name string) bool {
	if name == "" {
		return false
	}
	if _, reserved := contextAttributes[name]; reserved {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Extensions)+8)
	for k, v := range e.Extensions {
		m[k] = v
	}
	m["specversion"] = e.SpecVersion
	m["type"] = e.Type
	m["source"] = e.Source
	m["id"] = e.ID
	if !e.Time.IsZero() {
		m["time"] = FormatTime(e.Time)
	}
	if e.DataContentType != "" {
		m["datacontenttype"] = e.DataContentType
	}
	if e.Subject != "" {
		m["subject"] = e.Subject
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	return jsoncodec.Marshal(m)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if m == nil {
		return fmt.Errorf("%w: not an object", ErrInvalidEvent)
	}

	var out Event
	for name, raw := range m {
		if name == "data" {
			out.Data = raw
			continue
		}
		if _, ok := contextAttributes[name]; !ok {
			if out.Extensions == nil {
				out.Extensions = make(map[string]any)
			}
			out.Extensions[name] = raw
			continue
		}

		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidEvent, name)
		}
		switch name {
		case "specversion":
			out.SpecVersion = s
		case "type":
			out.Type = s
		case "source":
			out.Source = s
		case "id":
			out.ID = s
		case "datacontenttype":
			out.DataContentType = s
		case "subject":
			out.Subject = s
		case "time":
			t, err := ParseTime(s)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
			}
			out.Time = t
		}
	}
	*e = out
	return nil
}

// Decode parses and validates a structured-mode event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := e.UnmarshalJSON(data); err != nil {
		return Event{}, err
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
