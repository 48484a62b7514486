package reconcile

import "errors"

// Sentinel errors for the reconciliation core.
var (
	// ErrMisconfigured is returned by constructors before any gateway call.
	ErrMisconfigured = errors.New("reconcile: misconfigured")
	// ErrFetchAutoship aborts a run before any mutation.
	ErrFetchAutoship = errors.New("reconcile: fetch active autoships")
	// ErrSnapshotRead aborts a run before any mutation.
	ErrSnapshotRead = errors.New("reconcile: read latest snapshot")
	// ErrSnapshotWrite means mutations were applied but the new baseline
	// was not persisted. The next run repeats the same delta.
	ErrSnapshotWrite = errors.New("reconcile: write snapshot")
	// ErrCustomerNotFound is returned by TierService when Fluid has no
	// such customer.
	ErrCustomerNotFound = errors.New("reconcile: customer not found")
)
