/*
Package runtime assembles sparked services.

# Package Structure

## Service (service.go)

Service owns a bus and an ordered list of capabilities. Connect runs every
OnConnect in order, then subscribes the service subjects and hands each
incoming envelope to every capability. Disconnect reverses the order. A subject
matched by several service patterns is handled once.

## Capabilities (capabilities.go, api.go)

  - RouterCapability: CRUD and controller commands through a dispatch.Router
  - ClientsCapability: connects model clients together with the service
  - BridgeCapability: relays subjects to a broker transport
  - APICapability: read-only HTTP endpoints and Prometheus metrics

## Configuration (service_config.go)

NewServiceFromConfig wires the capabilities a config.Config asks for.

# Subpackages

  - subject: subject and pattern validation and matching
  - registry: the subscription set of a bus
  - bus: publish, subscribe and request/reply
  - mutation: the $set, $inc, $mul, $unset, $push and $pull operators
  - store: per-model document collections
  - dispatch: routing of <model>.<action> and <service>.<controller>.call
  - client: request helpers and model event listeners
  - bridge: Watermill relay with json, proto and cloudevents codecs
  - cloudevents: CloudEvents v1.0 structured-mode envelope
  - config, logging, errors, ids, jsoncodec, metrics: shared plumbing
*/
package runtime
