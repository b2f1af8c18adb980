package common

// Event is a named asynchronous notification.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// Emitter publishes events to whoever listens. Implementations must not
// block: components emit while holding their own locks to keep per-object
// ordering.
type Emitter interface {
	Emit(name string, payload any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(name string, payload any)

func (f EmitterFunc) Emit(name string, payload any) { f(name, payload) }

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(string, any) {}
