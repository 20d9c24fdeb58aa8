package reload

import "time"

// Listener is told the outcome of every reload, including the initial load
// and reloads triggered by file changes.
type Listener interface {
	OnReloadSuccess(count int, d time.Duration)
	OnReloadFailure(err error, d time.Duration)
}

// ListenerFuncs adapts a pair of functions to Listener. Either may be nil.
type ListenerFuncs struct {
	Success func(count int, d time.Duration)
	Failure func(err error, d time.Duration)
}

func (l ListenerFuncs) OnReloadSuccess(count int, d time.Duration) {
	if l.Success != nil {
		l.Success(count, d)
	}
}

func (l ListenerFuncs) OnReloadFailure(err error, d time.Duration) {
	if l.Failure != nil {
		l.Failure(err, d)
	}
}
