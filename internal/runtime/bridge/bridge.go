// Package bridge relays bus traffic to an external watermill transport and
// back, so services in different processes can share subjects.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/sparked/internal/runtime/bus"
	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	idspkg "github.com/drblury/sparked/internal/runtime/ids"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/subject"
	"github.com/drblury/sparked/transport"
)

// Metadata keys carried on every bridged message.
const (
	MetadataSubject = "sparked_subject"
	MetadataReplyTo = "sparked_reply_to"
	MetadataOrigin  = "sparked_origin"
	MetadataCodec   = "sparked_codec"

	// MetadataReplyTopic names the broker topic a reply to a bridged request
	// must be sent to.
	MetadataReplyTopic = "sparked_reply_topic"
)

// ReplyTopicPrefix starts the per-bridge topic replies come back on.
const ReplyTopicPrefix = "_INBOX."

// DefaultReplyTimeout bounds how long a bridge waits for the local reply to a
// request received from the broker.
const DefaultReplyTimeout = 30 * time.Second

// Config selects what crosses the bridge.
type Config struct {
	// Outbound patterns are subscribed on the bus; matches go to the broker
	// topic named after the subject.
	Outbound []string
	// Inbound topics are consumed from the broker and republished locally.
	Inbound []string
	// Codec is "json" (default), "proto" or "cloudevents".
	Codec string
	// EventSource is the CloudEvents source attribute. It only applies to the
	// cloudevents codec.
	EventSource string
	// ReplyTimeout bounds the wait for a local reply to a bridged request.
	// Zero means DefaultReplyTimeout.
	ReplyTimeout time.Duration
}

// Bridge forwards envelopes between a bus and a transport.
type Bridge struct {
	bus       *bus.Bus
	transport transport.Transport
	cfg       Config
	codec     Codec
	logger    loggingpkg.ServiceLogger
	origin    string

	mu            sync.Mutex
	started       bool
	subscriptions []string
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	replyMu sync.Mutex
	replies map[string]*pendingReply
}

// pendingReply is a one-shot bus subscription on a requester's reply subject.
type pendingReply struct {
	id    string
	timer *time.Timer
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. A nil logger panics.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	if logger == nil {
		panic(errspkg.ErrLoggerRequired)
	}
	return func(b *Bridge) { b.logger = logger }
}

// New validates cfg and returns a stopped bridge.
func New(b *bus.Bus, tr transport.Transport, cfg Config, opts ...Option) (*Bridge, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	if len(cfg.Outbound) > 0 && tr.Publisher == nil {
		return nil, errors.Join(errspkg.ErrTransportRequired, errors.New("outbound relay needs a publisher"))
	}
	if len(cfg.Inbound) > 0 && tr.Subscriber == nil {
		return nil, errors.Join(errspkg.ErrTransportRequired, errors.New("inbound relay needs a subscriber"))
	}
	for _, pattern := range cfg.Outbound {
		if err := subject.ValidatePattern(pattern); err != nil {
			return nil, err
		}
	}
	for _, topic := range cfg.Inbound {
		if err := subject.ValidateSubject(topic); err != nil {
			return nil, err
		}
	}
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if ce, ok := codec.(CloudEventsCodec); ok && cfg.EventSource != "" {
		ce.Source = cfg.EventSource
		codec = ce
	}

	br := &Bridge{
		bus:       b,
		transport: tr,
		cfg:       cfg,
		codec:     codec,
		logger:    loggingpkg.NopLogger(),
		origin:    idspkg.CreateULID(),
		replies:   make(map[string]*pendingReply),
	}
	for _, opt := range opts {
		opt(br)
	}
	return br, nil
}

// Origin identifies this bridge instance on the wire.
func (br *Bridge) Origin() string {
	return br.origin
}

// ReplyTopic is the broker topic replies to requests sent by this bridge
// arrive on.
func (br *Bridge) ReplyTopic() string {
	return ReplyTopicPrefix + br.origin
}

// relaysReplies reports whether outbound requests can get their reply back.
func (br *Bridge) relaysReplies() bool {
	return len(br.cfg.Outbound) > 0 && br.transport.Subscriber != nil
}

// Start subscribes the outbound patterns and begins consuming inbound topics.
// Calling Start twice is a no-op.
func (br *Bridge) Start(ctx context.Context) error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.started {
		return nil
	}

	for _, pattern := range br.cfg.Outbound {
		id, err := br.bus.Subscribe(pattern, br.forward)
		if err != nil {
			br.unsubscribeLocked()
			return err
		}
		br.subscriptions = append(br.subscriptions, id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, topic := range br.cfg.Inbound {
		messages, err := br.transport.Subscriber.Subscribe(runCtx, topic)
		if err != nil {
			cancel()
			br.unsubscribeLocked()
			return err
		}
		br.wg.Add(1)
		go br.consume(runCtx, topic, messages)
	}
	if br.relaysReplies() {
		topic := br.ReplyTopic()
		messages, err := br.transport.Subscriber.Subscribe(runCtx, topic)
		if err != nil {
			cancel()
			br.unsubscribeLocked()
			return err
		}
		br.wg.Add(1)
		go br.consume(runCtx, topic, messages)
	}

	br.cancel = cancel
	br.started = true
	br.logger.Info("Bridge started", loggingpkg.LogFields{
		"outbound": br.cfg.Outbound,
		"inbound":  br.cfg.Inbound,
		"codec":    br.codec.Name(),
	})
	return nil
}

// Close stops relaying and closes the transport. It waits for inbound
// consumers to return.
func (br *Bridge) Close() error {
	br.mu.Lock()
	if !br.started {
		br.mu.Unlock()
		return nil
	}
	br.started = false
	br.unsubscribeLocked()
	cancel := br.cancel
	br.cancel = nil
	br.mu.Unlock()
	br.dropReplies()

	cancel()
	err := br.transport.Close()
	br.wg.Wait()
	br.logger.Info("Bridge stopped", nil)
	return err
}

func (br *Bridge) unsubscribeLocked() {
	for _, id := range br.subscriptions {
		br.bus.Unsubscribe(id)
	}
	br.subscriptions = nil
}

type inboundKey struct{}

// inbound marks a publish made by a bridge so the same bridge does not send
// it straight back out. Replies and events derived from it use other
// subjects and still cross.
type inbound struct {
	origin  string
	subject string
}

func withInbound(ctx context.Context, origin, subj string) context.Context {
	return context.WithValue(ctx, inboundKey{}, inbound{origin: origin, subject: subj})
}

func (br *Bridge) echoed(ctx context.Context, subj string) bool {
	marker, ok := ctx.Value(inboundKey{}).(inbound)
	return ok && marker.origin == br.origin && marker.subject == subj
}

// forward is the bus callback for outbound patterns.
func (br *Bridge) forward(ctx context.Context, env bus.Envelope) error {
	if br.echoed(ctx, env.Subject) {
		return nil
	}
	return br.send(ctx, env.Subject, env)
}

// send encodes env and publishes it to topic.
func (br *Bridge) send(ctx context.Context, topic string, env bus.Envelope) error {
	payload, err := br.codec.Encode(env.Subject, env.Message)
	if err != nil {
		return err
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(MetadataSubject, env.Subject)
	msg.Metadata.Set(MetadataOrigin, br.origin)
	msg.Metadata.Set(MetadataCodec, br.codec.Name())
	if env.ReplyTo != "" {
		msg.Metadata.Set(MetadataReplyTo, env.ReplyTo)
		if br.relaysReplies() {
			msg.Metadata.Set(MetadataReplyTopic, br.ReplyTopic())
		}
	}
	msg.SetContext(ctx)

	return br.transport.Publisher.Publish(topic, msg)
}

func (br *Bridge) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	defer br.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := br.receive(ctx, topic, msg); err != nil {
				br.logger.Error("Dropping bridged message", err, loggingpkg.LogFields{
					"topic":      topic,
					"message_id": msg.UUID,
				})
			}
			// acked even when dropped
			msg.Ack()
		}
	}
}

func (br *Bridge) receive(ctx context.Context, topic string, msg *message.Message) error {
	if msg.Metadata.Get(MetadataOrigin) == br.origin {
		return nil
	}

	codec := br.codec
	if name := msg.Metadata.Get(MetadataCodec); name != "" && name != codec.Name() {
		c, err := CodecByName(name)
		if err != nil {
			return err
		}
		codec = c
	}

	payload, err := codec.Decode(msg.Payload)
	if err != nil {
		return err
	}

	subj := msg.Metadata.Get(MetadataSubject)
	if subj == "" {
		subj = topic
	}
	replyTo := msg.Metadata.Get(MetadataReplyTo)
	if replyTopic := msg.Metadata.Get(MetadataReplyTopic); replyTo != "" && replyTopic != "" && br.transport.Publisher != nil {
		if err := br.relayReply(replyTo, replyTopic); err != nil {
			return err
		}
	}
	return br.bus.Publish(withInbound(ctx, br.origin, subj), subj, payload, replyTo)
}

// relayReply sends the first local publish on replyTo to the requesting
// bridge's reply topic. The subscription is dropped after that publish, after
// the reply timeout, or on Close.
func (br *Bridge) relayReply(replyTo, replyTopic string) error {
	if err := subject.ValidateSubject(replyTo); err != nil {
		return err
	}

	br.replyMu.Lock()
	defer br.replyMu.Unlock()

	p := &pendingReply{}
	id, err := br.bus.Subscribe(replyTo, func(ctx context.Context, env bus.Envelope) error {
		if !br.takeReply(p) {
			return nil
		}
		return br.send(ctx, replyTopic, env)
	})
	if err != nil {
		return err
	}
	timeout := br.cfg.ReplyTimeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	p.id = id
	p.timer = time.AfterFunc(timeout, func() { br.takeReply(p) })
	br.replies[id] = p
	return nil
}

// takeReply removes p and reports whether it was still pending.
func (br *Bridge) takeReply(p *pendingReply) bool {
	br.replyMu.Lock()
	defer br.replyMu.Unlock()
	if _, ok := br.replies[p.id]; !ok {
		return false
	}
	delete(br.replies, p.id)
	p.timer.Stop()
	br.bus.Unsubscribe(p.id)
	return true
}

func (br *Bridge) dropReplies() {
	br.replyMu.Lock()
	defer br.replyMu.Unlock()
	for id, p := range br.replies {
		p.timer.Stop()
		br.bus.Unsubscribe(id)
		delete(br.replies, id)
	}
}
