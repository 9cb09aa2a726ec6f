package cloudevents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/sparked/internal/runtime/jsoncodec"
)

func TestNew(t *testing.T) {
	data := map[string]any{"name": "ada"}
	evt := New("user.created", "sparked/shop", data)

	assert.Equal(t, SpecVersion, evt.SpecVersion)
	assert.Equal(t, "user.created", evt.Type)
	assert.Equal(t, "sparked/shop", evt.Source)
	assert.Equal(t, ContentTypeJSON, evt.DataContentType)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Time.IsZero())
	assert.Equal(t, data, evt.Data)
	require.NoError(t, evt.Validate())
}

func TestWithExtensionCopies(t *testing.T) {
	base := New("user.created", "src", nil)
	withReply := base.WithExtension("replyto", "_INBOX.1")

	assert.Equal(t, "_INBOX.1", withReply.Extension("replyto"))
	assert.Empty(t, base.Extension("replyto"))
	assert.Empty(t, withReply.Extension("missing"))
}

func TestValidate(t *testing.T) {
	valid := New("user.created", "src", nil)

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"wrong specversion", func(e *Event) { e.SpecVersion = "0.3" }},
		{"missing type", func(e *Event) { e.Type = "" }},
		{"missing source", func(e *Event) { e.Source = "" }},
		{"missing id", func(e *Event) { e.ID = "" }},
		{"upper case extension", func(e *Event) { e.Extensions = map[string]any{"ReplyTo": "x"} }},
		{"reserved extension", func(e *Event) { e.Extensions = map[string]any{"data": "x"} }},
		{"extension with underscore", func(e *Event) { e.Extensions = map[string]any{"reply_to": "x"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := valid
			tt.mutate(&evt)
			assert.ErrorIs(t, evt.Validate(), ErrInvalidEvent)
		})
	}
}

func TestJSONStructuredMode(t *testing.T) {
	evt := New("user.updated", "sparked/shop", map[string]any{"id": "1"}).
		WithExtension("replyto", "_INBOX.7")
	evt.Subject = "1"
	evt.Time = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	data, err := jsoncodec.Marshal(evt)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, jsoncodec.Unmarshal(data, &flat))
	assert.Equal(t, "1.0", flat["specversion"])
	assert.Equal(t, "_INBOX.7", flat["replyto"])
	assert.Equal(t, "2026-03-01T12:00:00Z", flat["time"])
	assert.NotContains(t, flat, "extensions")

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, "user.updated", decoded.Type)
	assert.Equal(t, "1", decoded.Subject)
	assert.True(t, evt.Time.Equal(decoded.Time))
	assert.Equal(t, "_INBOX.7", decoded.Extension("replyto"))
	assert.Equal(t, map[string]any{"id": "1"}, decoded.Data)
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"not json":          `{nope`,
		"not an object":     `null`,
		"missing id":        `{"specversion":"1.0","type":"a","source":"b"}`,
		"numeric type":      `{"specversion":"1.0","type":1,"source":"b","id":"c"}`,
		"bad time":          `{"specversion":"1.0","type":"a","source":"b","id":"c","time":"yesterday"}`,
		"wrong specversion": `{"specversion":"0.3","type":"a","source":"b","id":"c"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}
