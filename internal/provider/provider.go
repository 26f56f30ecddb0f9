// Package provider defines the Provider abstraction of spec.md §4.1: the
// polymorphic adapter interface the Manager drives for every snapshot
// backend (LVM2-CoW, LVM2-Thin, Stratis), plus the per-provider
// transaction map used to serialize multi-source capacity checks.
package provider

import (
	"sync"

	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/sizepolicy"
)

// Info describes a Provider implementation.
type Info struct {
	Name    string
	Version string
}

// CreateRequest carries the per-source inputs to CheckCreateSnapshot /
// CreateSnapshot.
type CreateRequest struct {
	Source       string // mount point or block device path
	MountPoint   string // "" if Source is a bare block device
	Origin       string // resolved origin block device
	SnapsetName  string
	SnapsetIndex string
	Timestamp    int64
	Policy       *sizepolicy.Policy
}

// Provider is the interface every snapshot backend adapter implements.
// The Manager drives it exactly in the order documented in spec.md §4.1
// and §4.2: StartTransaction on every touched provider, then CheckCreate
// for every source, then Create for every source, then EndTransaction on
// every touched provider.
type Provider interface {
	Info() Info

	// StartTransaction opens a per-provider scratch map used to sum
	// tentatively-reserved snapshot sizes during a multi-source create
	// or resize.
	StartTransaction() error

	// EndTransaction releases the scratch map opened by
	// StartTransaction.
	EndTransaction() error

	// DiscoverSnapshots reconstructs every snapshot this provider
	// currently manages purely from storage state.
	DiscoverSnapshots() ([]*entities.Snapshot, error)

	// CanSnapshot reports whether this provider claims source. It
	// fails with apferr.Busy if source is part of an in-progress
	// revert.
	CanSnapshot(source string) (bool, error)

	// OriginFromMountPoint resolves the origin block device backing a
	// mount point.
	OriginFromMountPoint(mountPoint string) (string, error)

	// CheckCreateSnapshot validates (and, within the current
	// transaction, reserves capacity for) a snapshot creation without
	// performing it.
	CheckCreateSnapshot(req CreateRequest) error

	// CreateSnapshot performs the snapshot creation validated by a
	// prior CheckCreateSnapshot call in the same transaction.
	CreateSnapshot(req CreateRequest) (*entities.Snapshot, error)

	RenameSnapshot(oldName, newName string) error

	CheckResizeSnapshot(name string, policy *sizepolicy.Policy) error
	ResizeSnapshot(name string, policy *sizepolicy.Policy) error

	CheckRevertSnapshot(name string) error
	RevertSnapshot(name string) error

	DeleteSnapshot(name string) error

	ActivateSnapshot(name string) (devPath string, err error)
	DeactivateSnapshot(name string) error

	// SetAutoactivate is best-effort: providers that don't support it
	// (e.g. Stratis per spec.md §9) return ErrNotSupported and the
	// Manager logs and continues.
	SetAutoactivate(name string, auto bool) error
}

// ErrNotSupported is a sentinel a Provider.SetAutoactivate implementation
// can return to mean "this provider has no notion of autoactivate".
type notSupportedError struct{}

func (notSupportedError) Error() string { return "operation not supported by this provider" }

var ErrNotSupported error = notSupportedError{}

// TransactionMap is the per-provider scratch space opened by
// StartTransaction: it sums tentatively-reserved bytes per allocation
// pool (volume group / thin pool) name so that CheckCreateSnapshot calls
// within one Manager create/resize observe all concurrent reservations.
type TransactionMap struct {
	mu       sync.Mutex
	reserved map[string]uint64
	open     bool
}

// NewTransactionMap returns an unopened TransactionMap.
func NewTransactionMap() *TransactionMap {
	return &TransactionMap{}
}

// Open clears and opens the map for a new transaction.
func (t *TransactionMap) Open() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved = map[string]uint64{}
	t.open = true
}

// Close releases the map.
func (t *TransactionMap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved = nil
	t.open = false
}

// IsOpen reports whether a transaction is currently open.
func (t *TransactionMap) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Reserve adds bytes to pool's running total and returns the new total.
func (t *TransactionMap) Reserve(pool string, bytes uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reserved == nil {
		t.reserved = map[string]uint64{}
	}
	t.reserved[pool] += bytes
	return t.reserved[pool]
}

// Reserved returns the running total reserved against pool in the
// current transaction.
func (t *TransactionMap) Reserved(pool string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reserved[pool]
}
