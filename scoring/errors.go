package scoring

import "errors"

// errNotConverged signals that the exclusion/fixpoint relaxation in
// computeTree did not settle within the configured iteration bounds.
// The caller wraps it in a store.InternalError, which rolls back the
// whole enclosing transaction (§4.2's failure semantics).
var errNotConverged = errors.New("score tree did not converge")

// errIncrementalInconsistent signals that the scoped incremental pass
// in recomputeIncrementalLocked hit a condition it cannot resolve
// without full reachability information: a node's capacity collapsing
// to zero (which may orphan nodes reachable only through it), a rank
// that would need to shrink below what is already stored, an
// unreachable seed, or a pass that outgrows its iteration budget. The
// caller responds by falling back to a full recompute for that owner.
var errIncrementalInconsistent = errors.New("score tree incremental pass inconsistent")
