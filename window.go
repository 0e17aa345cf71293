package guestlink

// Endpoint is the sending half of the physical channel, usually the host
// frame. PostMessage hands data to the channel and returns without waiting
// for the peer. Implementations must be safe for concurrent use.
type Endpoint interface {
	PostMessage(data []byte, targetOrigin string) error
}

// Message is one delivery from the channel. Data is whatever the channel
// produced: serialized bytes or text, or an already parsed record.
type Message struct {
	Origin string
	Source Endpoint
	Data   interface{}
}

// Window is the guest side of the channel.
type Window interface {
	// Parent returns the conventional endpoint the guest talks to.
	Parent() Endpoint
	// Listen delivers every inbound message to fn until stop is called.
	Listen(fn func(Message)) (stop func())
}
