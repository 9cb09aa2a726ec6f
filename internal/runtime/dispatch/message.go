package dispatch

import (
	"encoding/json"
	"fmt"
	"math"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	"github.com/drblury/sparked/internal/runtime/jsoncodec"
	"github.com/drblury/sparked/internal/runtime/mutation"
	"github.com/drblury/sparked/internal/runtime/store"
)

// CreateRequest is the payload of <model>.create.
type CreateRequest struct {
	Objects    []store.Document `json:"objects"`
	Projection map[string]any   `json:"projection,omitempty"`
	Options    store.Options    `json:"options,omitempty"`
}

// QueryRequest is the payload of <model>.find and <model>.delete.
type QueryRequest struct {
	Conditions store.Document `json:"conditions,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
	Options    store.Options  `json:"options,omitempty"`
}

// UpdateRequest is the payload of <model>.update.
type UpdateRequest struct {
	Conditions store.Document `json:"conditions,omitempty"`
	Updates    map[string]any `json:"updates"`
	Projection map[string]any `json:"projection,omitempty"`
	Options    store.Options  `json:"options,omitempty"`
}

// CallRequest is the payload of <service>.<controller>.call.
type CallRequest struct {
	Args []any `json:"args"`
}

// Reply is sent to the reply subject and, on success, published as the
// domain event. Exactly one of Data and Error is meaningful.
type Reply struct {
	Data  any
	Error string
}

// MarshalJSON emits {"data": ...} or {"error": ...}, never both.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return jsoncodec.Marshal(map[string]any{"error": r.Error})
	}
	return jsoncodec.Marshal(map[string]any{"data": r.Data})
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := jsoncodec.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := DecodeReply(raw)
	if err != nil {
		return err
	}
	*r = decoded
	return nil
}

// Err returns the reply failure as an error, or nil.
func (r Reply) Err() error {
	if r.Error == "" {
		return nil
	}
	return &ReplyError{Reason: r.Error}
}

// ReplyError is what a requester sees when the router answered {error}.
type ReplyError struct {
	Reason string
}

func (e *ReplyError) Error() string {
	return e.Reason
}

func (e *ReplyError) Unwrap() error {
	return errspkg.ErrReplyError
}

// DecodeReply accepts a Reply, a *Reply or the {data}|{error} map shape a
// reply takes after crossing a broker.
func DecodeReply(msg any) (Reply, error) {
	switch m := msg.(type) {
	case Reply:
		return m, nil
	case *Reply:
		if m == nil {
			return Reply{}, fmt.Errorf("%w: nil reply", errspkg.ErrInvalidMessage)
		}
		return *m, nil
	}

	fields, err := asMap(msg)
	if err != nil {
		return Reply{}, err
	}
	if reason, ok := fields["error"]; ok && reason != nil {
		return Reply{Error: fmt.Sprint(reason)}, nil
	}
	data, ok := fields["data"]
	if !ok {
		return Reply{}, fmt.Errorf("%w: reply has neither data nor error", errspkg.ErrInvalidMessage)
	}
	return Reply{Data: data}, nil
}

// DecodeCreate accepts a CreateRequest or a map. objects may be a single
// document or a list of documents.
func DecodeCreate(msg any) (CreateRequest, error) {
	switch m := msg.(type) {
	case CreateRequest:
		return m, nil
	case *CreateRequest:
		if m != nil {
			return *m, nil
		}
	}
	fields, err := asMap(msg)
	if err != nil {
		return CreateRequest{}, err
	}

	req := CreateRequest{}
	raw, ok := fields["objects"]
	if !ok || raw == nil {
		return req, fmt.Errorf("%w: create requires objects", errspkg.ErrInvalidMessage)
	}
	if req.Objects, err = asDocuments(raw); err != nil {
		return req, err
	}
	req.Projection, req.Options, err = decodeCommon(fields)
	return req, err
}

// DecodeQuery accepts a QueryRequest or a map. Missing conditions match
// every document.
func DecodeQuery(msg any) (QueryRequest, error) {
	switch m := msg.(type) {
	case QueryRequest:
		return m, nil
	case *QueryRequest:
		if m != nil {
			return *m, nil
		}
	}
	fields, err := asMap(msg)
	if err != nil {
		return QueryRequest{}, err
	}

	req := QueryRequest{}
	if req.Conditions, err = asConditions(fields["conditions"]); err != nil {
		return req, err
	}
	req.Projection, req.Options, err = decodeCommon(fields)
	return req, err
}

// DecodeUpdate accepts an UpdateRequest or a map.
func DecodeUpdate(msg any) (UpdateRequest, error) {
	switch m := msg.(type) {
	case UpdateRequest:
		return m, nil
	case *UpdateRequest:
		if m != nil {
			return *m, nil
		}
	}
	fields, err := asMap(msg)
	if err != nil {
		return UpdateRequest{}, err
	}

	req := UpdateRequest{}
	if req.Conditions, err = asConditions(fields["conditions"]); err != nil {
		return req, err
	}
	updates, err := asMap(fields["updates"])
	if err != nil {
		return req, fmt.Errorf("%w: update requires an updates object", errspkg.ErrInvalidMessage)
	}
	req.Updates = updates
	req.Projection, req.Options, err = decodeCommon(fields)
	return req, err
}

// DecodeCall accepts a CallRequest or a map with an args list. Missing args
// mean no arguments.
func DecodeCall(msg any) (CallRequest, error) {
	switch m := msg.(type) {
	case CallRequest:
		return m, nil
	case *CallRequest:
		if m != nil {
			return *m, nil
		}
	case nil:
		return CallRequest{}, nil
	}
	fields, err := asMap(msg)
	if err != nil {
		return CallRequest{}, err
	}
	raw, ok := fields["args"]
	if !ok || raw == nil {
		return CallRequest{}, nil
	}
	args, ok := raw.([]any)
	if !ok {
		return CallRequest{}, fmt.Errorf("%w: args must be a list, got %T", errspkg.ErrInvalidMessage, raw)
	}
	return CallRequest{Args: args}, nil
}

func decodeCommon(fields map[string]any) (map[string]any, store.Options, error) {
	var opts store.Options
	var projection map[string]any
	if raw, ok := fields["projection"]; ok && raw != nil {
		p, err := asMap(raw)
		if err != nil {
			return nil, opts, fmt.Errorf("%w: projection must be an object", errspkg.ErrInvalidMessage)
		}
		projection = p
	}
	opts.Projection = projection

	raw, ok := fields["options"]
	if !ok || raw == nil {
		return projection, opts, nil
	}
	optFields, err := asMap(raw)
	if err != nil {
		return nil, opts, fmt.Errorf("%w: options must be an object", errspkg.ErrInvalidMessage)
	}
	if limit, ok := optFields["limit"]; ok && limit != nil {
		n, err := asInt(limit)
		if err != nil {
			return nil, opts, err
		}
		opts.Limit = n
	}
	return projection, opts, nil
}

// asMap turns a message into a field map. Structs go through their JSON form.
func asMap(msg any) (map[string]any, error) {
	switch m := msg.(type) {
	case map[string]any:
		return m, nil
	case nil:
		return nil, fmt.Errorf("%w: message is empty", errspkg.ErrInvalidMessage)
	}
	var out map[string]any
	if err := jsoncodec.Convert(msg, &out); err != nil || out == nil {
		return nil, fmt.Errorf("%w: expected an object, got %T", errspkg.ErrInvalidMessage, msg)
	}
	return out, nil
}

func asConditions(raw any) (store.Document, error) {
	if raw == nil {
		return nil, nil
	}
	fields, err := asMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: conditions must be an object", errspkg.ErrInvalidMessage)
	}
	return fields, nil
}

func asDocuments(raw any) ([]store.Document, error) {
	switch v := raw.(type) {
	case []store.Document:
		return v, nil
	case []any:
		docs := make([]store.Document, 0, len(v))
		for _, item := range v {
			doc, err := asMap(item)
			if err != nil {
				return nil, fmt.Errorf("%w: every object must be a document", errspkg.ErrInvalidMessage)
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}
	doc, err := asMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: objects must be a document or a list of documents", errspkg.ErrInvalidMessage)
	}
	return []store.Document{doc}, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: limit must be an integer", errspkg.ErrInvalidMessage)
		}
		return int(i), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	default:
		if mutation.IsNumeric(v) {
			var out int
			if err := jsoncodec.Convert(v, &out); err == nil {
				return out, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: limit must be an integer, got %v", errspkg.ErrInvalidMessage, v)
}
