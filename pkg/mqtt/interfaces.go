package mqtt

import "context"

// Client is the broker connection the ingest listener subscribes through.
// The engine only consumes events; it never publishes.
type Client interface {
	// Connect establishes a connection to the MQTT broker
	Connect(ctx context.Context) error

	// Disconnect closes the connection to the MQTT broker
	Disconnect()

	// Subscribe subscribes to a topic with the given QoS and handler
	Subscribe(topic string, qos byte, handler MessageHandler) error

	// IsConnected reports whether the client is currently connected
	IsConnected() bool
}

// MessageHandler is a callback for incoming messages
type MessageHandler func(Message)

// Message is one received MQTT message
type Message interface {
	// Topic returns the topic the message was published to
	Topic() string

	// Payload returns the message payload
	Payload() []byte
}
