// Package relay implements the message-bus transport of AgentMesh: signed,
// addressed events published to store-and-forward relays over websockets.
//
// The transport offers at-least-once delivery to subscribed relays with no
// ordering and no delivery confirmation beyond relay acknowledgment. The id
// of an outgoing event doubles as the correlation id used by the
// pending-delegation registry to match replies to calls.
package relay
