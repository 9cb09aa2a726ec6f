// Package sparked is an in-process, hierarchical publish/subscribe bus with
// request/reply and a CRUD dispatch router over a document store.
//
// Subjects are dot-separated tokens such as "user.created". Subscriptions use
// patterns where "*" matches exactly one token and a trailing ">" matches one
// or more tokens. Publishing is synchronous: every matching callback runs
// before Publish returns, and a failing callback never stops delivery to the
// others.
//
// A Service owns a Bus and an ordered list of capabilities. The router
// capability answers "<model>.create|delete|find|update" commands against a
// MemoryStore and "<service>.<controller>.call" commands against registered
// handlers. Every answer goes to the reply subject as {data} or {error}, and
// successful commands are announced on "<model>.created|deleted|found|updated".
// Updates accept the $set, $inc, $mul, $unset, $push and $pull operators.
//
// Model and Controller are the client side: they issue requests with a
// timeout and deliver model events to listeners.
//
// # Bridging
//
// The bridge capability relays selected subjects to an external broker through
// Watermill so services in different processes can share events. Transports
// are registered by name:
//   - channel: in-memory Go channels for tests
//   - nats: core NATS
//   - kafka: consumer groups named after the service
//   - rabbitmq: durable queues suffixed with the service name
//
// Payloads are encoded as JSON, as a protobuf google.protobuf.Value or as a
// structured-mode CloudEvent.
//
// # Configuration
//
// NewServiceFromConfig builds a complete service from Config, typically loaded
// with LoadConfig from YAML. The sparked command in cmd/sparked runs such a
// service until interrupted.
package sparked
