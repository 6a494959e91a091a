package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1 // span start
	KindSpanEnd                   // span end
	KindPoint                     // instant event
	KindError                     // failure, emitted at every level but off
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity of the event. Lower values are coarser.
type Scope uint8

const (
	ScopeCycle   Scope = iota + 1 // one debounce fire
	ScopeRequest                  // one (document, server) pull
	ScopeMerge                    // applying a report on the owner loop
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeCycle:
		return "cycle"
	case ScopeRequest:
		return "request"
	case ScopeMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time         // wall-clock timestamp
	Seq      uint64            // global sequence number
	Kind     Kind              // event kind
	Scope    Scope             // granularity
	SpanID   uint64            // span identifier
	ParentID uint64            // parent span (0 if root)
	Name     string            // e.g. "pull", "merge", "cycle:change"
	Detail   string            // optional detail message
	Extra    map[string]string // extensible key-value pairs
}

// Point emits an instant event.
func Point(t Tracer, scope Scope, name, detail string, parent uint64) {
	emitSimple(t, KindPoint, scope, name, detail, parent)
}

// Error emits a failure event.
func Error(t Tracer, scope Scope, name string, err error, parent uint64) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	emitSimple(t, KindError, scope, name, detail, parent)
}

func emitSimple(t Tracer, kind Kind, scope Scope, name, detail string, parent uint64) {
	if t == nil || !t.Level().ShouldEmit(kind, scope) {
		return
	}
	t.Emit(&Event{
		Time:     time.Now(),
		Kind:     kind,
		Scope:    scope,
		ParentID: parent,
		Name:     name,
		Detail:   detail,
	})
}
