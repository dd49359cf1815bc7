package applayer

import "errors"

// Sentinel errors for the three failure classes this core raises.
// None of these are fatal to the process; they only ever cause this
// core to mark a flow no-inspection or ask the caller to re-present
// bytes later.
var (
	// ErrSoftRollback signals that detection committed prematurely;
	// the caller should re-present the same bytes once the other
	// direction has weighed in.
	ErrSoftRollback = errors.New("applayer: soft rollback, re-present bytes later")

	// ErrWrongDirectionFirstData signals a parser-direction policy
	// violation; the flow is now marked no-inspection.
	ErrWrongDirectionFirstData = errors.New("applayer: wrong direction first data")

	// ErrNoInspection signals the flow has been marked
	// no-app-layer-inspection as a result of this call.
	ErrNoInspection = errors.New("applayer: no app-layer inspection")

	// ErrDrainFailed signals the force-drain of the opposing
	// half-stream failed; the flow is now marked no-inspection.
	ErrDrainFailed = errors.New("applayer: opposing direction drain failed")
)

// lower-case aliases used internally so the decision-tree code in
// tcp.go reads close to each branch's own failure label.
var (
	errSoftRollback            = ErrSoftRollback
	errWrongDirectionFirstData = ErrWrongDirectionFirstData
	errNoInspection            = ErrNoInspection
)
