package models

// StatusSink receives human-readable progress messages from any component on
// any goroutine. Implementations must be safe for concurrent use; rendering
// is the front-end's concern.
type StatusSink interface {
	Report(msg string)
}

// StatusFunc adapts a plain function to a StatusSink.
type StatusFunc func(string)

func (f StatusFunc) Report(msg string) { f(msg) }

// DiscardStatus drops all messages.
var DiscardStatus StatusSink = StatusFunc(func(string) {})
