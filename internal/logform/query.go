package logform

// Status is the lifecycle of a read view.
type Status int

const (
	Loading Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Query holds one read view. Data is meaningful only when Status is Ready,
// Err only when it is Failed.
type Query[T any] struct {
	Status Status
	Data   T
	Err    error
}

func loading[T any]() Query[T] {
	return Query[T]{Status: Loading}
}

func result[T any](data T, err error) Query[T] {
	if err != nil {
		return Query[T]{Status: Failed, Err: err}
	}
	return Query[T]{Status: Ready, Data: data}
}
