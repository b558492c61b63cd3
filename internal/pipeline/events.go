package pipeline

// Severity grades progress events for the sink.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Sink receives the linear sequence of progress events a run emits. One-way:
// the pipeline never reads back. Implementations must not block.
type Sink interface {
	Event(message string, severity Severity)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(message string, severity Severity)

func (f SinkFunc) Event(message string, severity Severity) { f(message, severity) }

// NopSink discards all events.
var NopSink Sink = SinkFunc(func(string, Severity) {})
