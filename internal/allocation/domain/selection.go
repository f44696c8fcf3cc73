package domain

import "sort"

// PoolKey ties a fetched device pool to the product and quantity it was
// fetched for. A pool whose key no longer matches the current selection is
// stale and must be cleared before reuse.
type PoolKey struct {
	ProductID string
	Quantity  int
}

// Field names a selection field for error reporting.
type Field string

const (
	FieldFranchise Field = "franchise"
	FieldProduct   Field = "product"
	FieldQuantity  Field = "quantity"
	FieldMerchant  Field = "merchant"
	FieldDevices   Field = "devices"
)

// SelectionState holds the in-progress workflow context. It is owned
// exclusively by a single workflow instance and mutated only through the
// workflow operations.
type SelectionState struct {
	FranchiseID        string
	ProductID          string
	RequestedQuantity  int // 0 means unset; invalid values are never stored
	MerchantID         string
	DevicePool         []DeviceRecord
	Selected           map[string]struct{}
	PoolFetchedForKey  *PoolKey
	SubmissionInFlight bool
}

// NewSelectionState creates the initial state for an actor. Franchise is
// pre-filled for franchise-locked actors.
func NewSelectionState(actor Actor) SelectionState {
	st := SelectionState{Selected: make(map[string]struct{})}
	if actor.FranchiseLocked() {
		st.FranchiseID = actor.FranchiseID
	}
	return st
}

// Reset returns the state to its initial value, retaining the franchise for
// franchise-locked actors.
func (s *SelectionState) Reset(actor Actor) {
	*s = NewSelectionState(actor)
}

// ClearPool drops the device pool, the selection, and the pool key.
func (s *SelectionState) ClearPool() {
	s.DevicePool = nil
	s.Selected = make(map[string]struct{})
	s.PoolFetchedForKey = nil
}

// ClearProductChain clears the product and everything downstream of it.
func (s *SelectionState) ClearProductChain() {
	s.ProductID = ""
	s.RequestedQuantity = 0
	s.ClearPool()
}

// EffectiveKey returns the pool key implied by the current product and
// quantity, and whether both are set.
func (s SelectionState) EffectiveKey() (PoolKey, bool) {
	if s.ProductID == "" || s.RequestedQuantity <= 0 {
		return PoolKey{}, false
	}
	return PoolKey{ProductID: s.ProductID, Quantity: s.RequestedQuantity}, true
}

// PoolMatchesKey reports whether the fetched pool corresponds to the current
// product and quantity.
func (s SelectionState) PoolMatchesKey() bool {
	key, ok := s.EffectiveKey()
	if !ok || s.PoolFetchedForKey == nil {
		return false
	}
	return *s.PoolFetchedForKey == key
}

// PoolContains reports whether the device id is in the current pool.
func (s SelectionState) PoolContains(deviceID string) bool {
	for _, d := range s.DevicePool {
		if d.ID == deviceID {
			return true
		}
	}
	return false
}

// IsSelected reports whether the device id is currently selected.
func (s SelectionState) IsSelected(deviceID string) bool {
	_, ok := s.Selected[deviceID]
	return ok
}

// SelectedCount returns the number of selected devices.
func (s SelectionState) SelectedCount() int {
	return len(s.Selected)
}

// SelectedDeviceIDs returns the selected device ids in a stable order. The
// set type guarantees no duplicates.
func (s SelectionState) SelectedDeviceIDs() []string {
	ids := make([]string, 0, len(s.Selected))
	for id := range s.Selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy safe to hand to callers.
func (s SelectionState) Clone() SelectionState {
	out := s
	out.DevicePool = append([]DeviceRecord(nil), s.DevicePool...)
	out.Selected = make(map[string]struct{}, len(s.Selected))
	for id := range s.Selected {
		out.Selected[id] = struct{}{}
	}
	if s.PoolFetchedForKey != nil {
		key := *s.PoolFetchedForKey
		out.PoolFetchedForKey = &key
	}
	return out
}
