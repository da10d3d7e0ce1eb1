package coupling

// EventKind classifies accelerator events.
type EventKind int

const (
	// EventIteration fires after every accelerated iteration.
	EventIteration EventKind = iota
	// EventConverged fires when the residual first drops below tolerance.
	EventConverged
	// EventDegeneracy fires when a strategy falls back to fixed relaxation
	// for one call (singular Anderson solve, collapsed line search).
	EventDegeneracy
	// EventStagnation fires when dynamic relaxation sees the residual fail to
	// improve for dynamic_iteration_threshold consecutive iterations.
	EventStagnation
)

func (k EventKind) String() string {
	switch k {
	case EventIteration:
		return "iteration"
	case EventConverged:
		return "converged"
	case EventDegeneracy:
		return "degeneracy"
	case EventStagnation:
		return "stagnation"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind       EventKind
	Strategy   Strategy
	Iteration  int
	Residual   float64
	Relaxation float64
	Reason     string
}

// Observer receives accelerator events synchronously from Apply.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }
