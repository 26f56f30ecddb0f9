// Package progress defines the minimal progress-reporting seam spec.md
// §1 places out of scope as a terminal renderer but §5 still requires
// for cancellation: the filesystem diff walk and its on-disk cache
// report lifecycle events through a Progress, and a caller watching for
// an interrupt signal cancels it rather than leaving it silently
// abandoned, grounded on snapm's _progress.py/progress.py contract.
package progress

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Progress receives lifecycle events from a long-running operation.
// Start is called once with the total unit count (0 if unknown), Update
// reports n additional units completed, Finish marks normal completion,
// and Cancel marks that the caller asked the operation to stop.
type Progress interface {
	Start(total int)
	Update(n int)
	Finish()
	Cancel()
}

// Noop implements Progress by doing nothing. It is the default FsDiffer
// uses when no caller-supplied Progress is configured.
type Noop struct{}

func (Noop) Start(int) {}
func (Noop) Update(int) {}
func (Noop) Finish()    {}
func (Noop) Cancel()    {}

var _ Progress = Noop{}

// WatchInterrupt calls p.Cancel() the first time the process receives
// SIGINT or SIGTERM and returns a stop function the caller must invoke
// (typically via defer) to stop watching once the operation is done.
// It does not itself abort any in-flight work: per spec.md §5,
// cancellation here means the progress indicator is told to stop, not
// that every call site is preempted mid-walk.
func WatchInterrupt(p Progress) (stop func()) {
	parent, stopParent := context.WithCancel(context.Background())
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			p.Cancel()
		}
	}()
	return func() {
		stopParent()
		cancel()
	}
}
