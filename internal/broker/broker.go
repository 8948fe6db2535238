package broker

// MessageBroker is the capability the publish executor runs against. The
// topic maps to a routing key on the configured exchange.
type MessageBroker interface {
	Publish(topic string, message []byte) error
	Close() error
}
