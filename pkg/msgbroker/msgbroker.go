package msgbroker

// MessageBroker used for sending and receiving messages
type MessageBroker interface {
	// Publish sends msg to channel
	Publish(msg []byte, channel string) error
	// Subscribe registers cb for every channel matching pattern
	Subscribe(pattern string, cb MessageHandler) error
	// Unsubscribe from the given patterns
	Unsubscribe(patterns ...string) error
	// Close closes subscriptions
	Close() error
}

// MessageHandler is a callback function that processes messages delivered to
// subscribers. Handlers for a given pattern are invoked in publish order.
type MessageHandler func(msg *Message)

// Message is the representation of transmitted data
type Message struct {
	Channel string
	Data    []byte
}
