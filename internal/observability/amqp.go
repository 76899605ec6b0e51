package observability

import "context"

// Publisher is the outbound event sink. The concrete implementation lives in
// internal/rabbitmq; a nil publisher silently drops events so the realtime
// path never depends on the broker being up.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var defaultPublisher Publisher

// SetPublisher installs the process-wide event publisher.
func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishEvent forwards the event to the configured publisher, counting
// failures. Callers treat publishing as best-effort.
func PublishEvent(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, event, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
