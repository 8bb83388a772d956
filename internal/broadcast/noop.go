package broadcast

import "context"

// NoopBroker is used when no broadcast primitive is available: the cache
// stays local to the instance.
type NoopBroker struct{}

func (NoopBroker) Open(name string) Channel { return noopChannel{name: name} }
func (NoopBroker) Close() error             { return nil }

type noopChannel struct {
	name string
}

func (c noopChannel) Name() string                         { return c.name }
func (noopChannel) Publish(context.Context, Message) error { return nil }
func (noopChannel) Subscribe(func(Message)) func()         { return func() {} }
func (noopChannel) Close() error                           { return nil }
