package bridge

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	"github.com/drblury/sparked/internal/runtime/cloudevents"
	"github.com/drblury/sparked/internal/runtime/jsoncodec"
)

// Codec names accepted by CodecByName.
const (
	CodecJSON        = "json"
	CodecProto       = "proto"
	CodecCloudEvents = "cloudevents"
)

// DefaultEventSource is the CloudEvents source used when none is configured.
const DefaultEventSource = "sparked"

// Codec turns bus messages into broker payloads and back. Decoded values are
// plain JSON trees: maps, slices, strings, bools, numbers and nil.
type Codec interface {
	Name() string
	Encode(subj string, v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// CodecByName returns the codec registered under name. An empty name selects
// JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecProto:
		return ProtoCodec{}, nil
	case CodecCloudEvents:
		return CloudEventsCodec{Source: DefaultEventSource}, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", errspkg.ErrInvalidMessage, name)
	}
}

// JSONCodec encodes with sonic.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Encode(_ string, v any) ([]byte, error) {
	return jsoncodec.Marshal(v)
}

func (JSONCodec) Decode(data []byte) (any, error) {
	var out any
	if len(data) == 0 {
		return nil, nil
	}
	if err := jsoncodec.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrInvalidMessage, err)
	}
	return out, nil
}

// ProtoCodec wraps the message in a google.protobuf.Value. The message is
// first normalised through JSON so structs and typed slices are accepted.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return CodecProto }

func (ProtoCodec) Encode(_ string, v any) ([]byte, error) {
	var tree any
	if err := jsoncodec.Convert(v, &tree); err != nil {
		return nil, err
	}
	value, err := structpb.NewValue(tree)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(value)
}

func (ProtoCodec) Decode(data []byte) (any, error) {
	value := &structpb.Value{}
	if err := proto.Unmarshal(data, value); err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrInvalidMessage, err)
	}
	if value.GetKind() == nil {
		return nil, nil
	}
	return value.AsInterface(), nil
}

// CloudEventsCodec wraps the message in a structured-mode CloudEvent whose
// type is the bus subject.
type CloudEventsCodec struct {
	Source string
}

func (CloudEventsCodec) Name() string { return CodecCloudEvents }

func (c CloudEventsCodec) Encode(subj string, v any) ([]byte, error) {
	source := c.Source
	if source == "" {
		source = DefaultEventSource
	}
	var data any
	if err := jsoncodec.Convert(v, &data); err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(cloudevents.New(subj, source, data))
}

func (CloudEventsCodec) Decode(data []byte) (any, error) {
	evt, err := cloudevents.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrInvalidMessage, err)
	}
	return evt.Data, nil
}
