package reconcile

import "github.com/ariefcatur/go-order-console/internal/orders"

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateError   State = "error"
)

// Snapshot is an immutable view of the engine. Orders is the mirror of the
// last successful listing and must not be modified by readers.
type Snapshot struct {
	State    State
	Message  string
	Orders   []orders.Order
	InFlight int
	// Loaded is false until the first listing for the current session lands.
	Loaded bool
}
