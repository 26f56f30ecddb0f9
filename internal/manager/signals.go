package manager

import "golang.org/x/sys/unix"

// blockSignals and unblockSignals bracket a Manager critical section so
// that SIGINT/SIGTERM delivered mid-create or mid-delete cannot leave
// provider state and the in-memory index out of sync, mirroring the
// original snapm.manager.signals.suspend_signals decorator.
func blockSignals() error {
	return unix.PthreadSigmask(unix.SIG_BLOCK, termSigset(), nil)
}

func unblockSignals() error {
	return unix.PthreadSigmask(unix.SIG_UNBLOCK, termSigset(), nil)
}

func termSigset() *unix.Sigset_t {
	var set unix.Sigset_t
	for _, sig := range []unix.Signal{unix.SIGINT, unix.SIGTERM} {
		bit := uint(sig) - 1
		set.Val[bit/64] |= 1 << (bit % 64)
	}
	return &set
}

// withSignalsSuspended runs fn with SIGINT/SIGTERM blocked for the
// duration, unblocking even if fn panics or returns an error.
func withSignalsSuspended(fn func() error) error {
	if err := blockSignals(); err != nil {
		return err
	}
	defer unblockSignals()
	return fn()
}
