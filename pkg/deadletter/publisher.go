package deadletter

import "context"

// Publisher forwards exhausted or permanently failed envelopes to the
// dead-letter channel, where an out-of-band operational process picks them
// up. The payload is the envelope's JSON wire shape.
type Publisher interface {
	// Publish sends the payload to the configured dead-letter topic with
	// optional headers.
	Publish(ctx context.Context, payload []byte, headers map[string]string) error
	// Close cleans up any resources (connections).
	Close() error
}
