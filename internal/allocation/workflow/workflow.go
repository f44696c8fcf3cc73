// Package workflow implements the device-allocation workflow: cascading
// selection state, key-based staleness for asynchronous fetches, and the
// guarded allocation submission.
//
// The workflow is deterministic and performs no I/O. Every fetch a caller
// starts is represented by a ticket; data arrival is an explicit Apply call
// that is dropped when the ticket no longer matches the current state. The
// session layer owns goroutines and the gateway.
package workflow

import (
	"strconv"
	"strings"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	"github.com/posworks/fleetconsole/internal/allocation/gateway"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
)

// FranchiseTicket identifies one franchise-change data load (products and
// merchants). A ticket from a superseded franchise change applies nothing.
type FranchiseTicket struct {
	gen         uint64
	FranchiseID string
}

// PoolTicket identifies one device-pool fetch for a specific key. A ticket
// whose key was superseded applies nothing.
type PoolTicket struct {
	gen         uint64
	Key         domain.PoolKey
	FranchiseID string
}

// Workflow owns one operator's in-progress allocation. It is not safe for
// concurrent use; the session layer serializes access.
type Workflow struct {
	actor domain.Actor
	st    domain.SelectionState

	franchises []domain.FranchiseRef
	products   []domain.ProductStock
	merchants  []domain.MerchantRef

	productsLoaded  bool
	merchantsLoaded bool

	franchiseGen uint64
	poolGen      uint64
	poolInFlight *PoolTicket

	// sticky holds setter-rejected input errors. They persist until the field
	// is next set and block submission alongside the computed rules.
	sticky domain.FieldErrors
}

// New creates a workflow for the given actor. Franchise-locked actors start
// with their franchise pre-filled.
func New(actor domain.Actor) (*Workflow, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	return &Workflow{
		actor:  actor,
		st:     domain.NewSelectionState(actor),
		sticky: make(domain.FieldErrors),
	}, nil
}

// Actor returns the actor bound at construction.
func (w *Workflow) Actor() domain.Actor {
	return w.actor
}

// State returns a copy of the current selection state.
func (w *Workflow) State() domain.SelectionState {
	return w.st.Clone()
}

// SetFranchises stores the franchise reference list, loaded once per session
// for non-franchise actors.
func (w *Workflow) SetFranchises(franchises []domain.FranchiseRef) {
	w.franchises = append([]domain.FranchiseRef(nil), franchises...)
}

// Franchises returns the loaded franchise references.
func (w *Workflow) Franchises() []domain.FranchiseRef {
	return append([]domain.FranchiseRef(nil), w.franchises...)
}

// Products returns the product stock list for the current franchise.
func (w *Workflow) Products() []domain.ProductStock {
	return append([]domain.ProductStock(nil), w.products...)
}

// Merchants returns the merchant list for the current franchise.
func (w *Workflow) Merchants() []domain.MerchantRef {
	return append([]domain.MerchantRef(nil), w.merchants...)
}

// SetFranchise changes the franchise and clears everything downstream, in
// dependency order, before any new data can arrive. It returns the ticket the
// caller must present when applying the franchise's products and merchants.
//
// Franchise-locked actors may only "set" their own fixed franchise; any other
// id is rejected with RoleLocked and has no state effect.
func (w *Workflow) SetFranchise(id string) (FranchiseTicket, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return FranchiseTicket{}, apperrors.New(apperrors.CodeFranchiseRequired, "franchise id is required")
	}
	if w.actor.FranchiseLocked() && id != w.actor.FranchiseID {
		return FranchiseTicket{}, apperrors.New(apperrors.CodeRoleLocked, "actor franchise is fixed")
	}

	w.st.FranchiseID = id
	w.st.MerchantID = ""
	w.st.ClearProductChain()
	w.products = nil
	w.merchants = nil
	w.productsLoaded = false
	w.merchantsLoaded = false
	w.sticky = make(domain.FieldErrors)

	// Supersede any in-flight loads keyed to the previous franchise.
	w.franchiseGen++
	w.poolGen++
	w.poolInFlight = nil

	return FranchiseTicket{gen: w.franchiseGen, FranchiseID: id}, nil
}

// ApplyProducts stores a products response for the given ticket. It reports
// whether the response was applied; stale responses are dropped.
func (w *Workflow) ApplyProducts(t FranchiseTicket, products []domain.ProductStock) bool {
	if t.gen != w.franchiseGen {
		return false
	}
	w.products = append([]domain.ProductStock(nil), products...)
	w.productsLoaded = true
	return true
}

// ApplyMerchants stores a merchants response for the given ticket. It reports
// whether the response was applied; stale responses are dropped.
func (w *Workflow) ApplyMerchants(t FranchiseTicket, merchants []domain.MerchantRef) bool {
	if t.gen != w.franchiseGen {
		return false
	}
	w.merchants = append([]domain.MerchantRef(nil), merchants...)
	w.merchantsLoaded = true
	return true
}

// AbandonFranchiseLoad reports whether the ticket is still current after a
// failed products or merchants load, so the caller knows whether the failure
// concerns the franchise the operator is looking at.
func (w *Workflow) AbandonFranchiseLoad(t FranchiseTicket) bool {
	return t.gen == w.franchiseGen
}

// SetProduct changes the product and clears quantity and device state.
func (w *Workflow) SetProduct(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.New(apperrors.CodeProductRequired, "product id is required")
	}
	if w.st.FranchiseID == "" {
		return apperrors.New(apperrors.CodeFranchiseRequired, "select a franchise first")
	}
	if _, ok := domain.StockFor(w.products, id); !ok {
		return apperrors.New(apperrors.CodeProductUnknown, "product is not in the franchise product list")
	}

	w.st.ProductID = id
	w.st.RequestedQuantity = 0
	w.st.ClearPool()
	delete(w.sticky, domain.FieldQuantity)

	w.poolGen++
	w.poolInFlight = nil
	return nil
}

// SetQuantity validates and stores the requested quantity. Invalid values are
// rejected and recorded as a field error without clearing anything else, so
// the state never holds a quantity that violates the stock bound. A valid
// change clears the device pool and selection.
func (w *Workflow) SetQuantity(quantity int) error {
	if w.st.ProductID == "" {
		return apperrors.New(apperrors.CodeProductRequired, "select a product first")
	}
	if quantity <= 0 {
		err := apperrors.New(apperrors.CodeQuantityNotPositive, "quantity must be a positive integer")
		w.sticky[domain.FieldQuantity] = err
		return err
	}
	if available, ok := domain.StockFor(w.products, w.st.ProductID); ok && quantity > available {
		err := apperrors.WithMetadata(
			apperrors.CodeQuantityExceedsStock,
			"requested quantity "+strconv.Itoa(quantity)+" exceeds available stock "+strconv.Itoa(available),
			map[string]string{"Available": strconv.Itoa(available)},
		)
		w.sticky[domain.FieldQuantity] = err
		return err
	}

	delete(w.sticky, domain.FieldQuantity)
	if quantity == w.st.RequestedQuantity {
		return nil
	}

	w.st.RequestedQuantity = quantity
	w.st.ClearPool()
	w.poolGen++
	w.poolInFlight = nil
	return nil
}

// SetMerchant stores the merchant. Merchant is a parallel dependency on the
// franchise only; it does not affect product or device state.
func (w *Workflow) SetMerchant(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.New(apperrors.CodeMerchantRequired, "merchant id is required")
	}
	found := false
	for _, m := range w.merchants {
		if m.ID == id {
			found = true
			break
		}
	}
	if !found {
		return apperrors.New(apperrors.CodeMerchantUnknown, "merchant is not in the franchise merchant list")
	}
	w.st.MerchantID = id
	return nil
}

// BeginDevicePoolFetch registers a device-pool fetch for the current key and
// returns its ticket. When a fetch for the same key is already in flight the
// existing ticket is returned with coalesced=true and no new request should
// be issued. A fetch for a different key supersedes the old one: the old
// ticket's response will be dropped on arrival.
func (w *Workflow) BeginDevicePoolFetch() (ticket PoolTicket, coalesced bool, err error) {
	key, ok := w.st.EffectiveKey()
	if !ok || w.st.FranchiseID == "" {
		return PoolTicket{}, false, apperrors.New(apperrors.CodePoolFetchNotReady, "franchise, product, and quantity must be set before fetching devices")
	}
	if w.sticky[domain.FieldQuantity] != nil {
		return PoolTicket{}, false, apperrors.New(apperrors.CodePoolFetchNotReady, "quantity is invalid")
	}

	if w.poolInFlight != nil && w.poolInFlight.Key == key {
		return *w.poolInFlight, true, nil
	}

	w.poolGen++
	t := PoolTicket{gen: w.poolGen, Key: key, FranchiseID: w.st.FranchiseID}
	w.poolInFlight = &t
	return t, false, nil
}

// ApplyDevicePool stores a device-pool response for the given ticket, tags
// the pool with the ticket's key, and resets any prior device selection. It
// reports whether the response was applied; stale responses are dropped.
func (w *Workflow) ApplyDevicePool(t PoolTicket, devices []domain.DeviceRecord) bool {
	if t.gen != w.poolGen {
		return false
	}
	key := t.Key
	w.st.DevicePool = append([]domain.DeviceRecord(nil), devices...)
	w.st.Selected = make(map[string]struct{})
	w.st.PoolFetchedForKey = &key
	w.poolInFlight = nil
	return true
}

// AbandonDevicePoolFetch clears the in-flight marker after a failed fetch so
// the operator can retry. It reports whether the ticket was still current.
func (w *Workflow) AbandonDevicePoolFetch(t PoolTicket) bool {
	if t.gen != w.poolGen {
		return false
	}
	w.poolInFlight = nil
	return true
}

// PoolFetchInFlight reports whether a device-pool fetch ticket is still
// outstanding. Re-keying setters supersede any in-flight ticket.
func (w *Workflow) PoolFetchInFlight() bool {
	return w.poolInFlight != nil
}

// ToggleDevice selects or deselects one device from the current pool.
// Selecting past the requested quantity is rejected, so the cardinality
// invariant cannot be violated through the public API.
func (w *Workflow) ToggleDevice(deviceID string) error {
	if !w.st.PoolMatchesKey() {
		return apperrors.New(apperrors.CodePoolFetchNotReady, "fetch the device pool before selecting devices")
	}
	if !w.st.PoolContains(deviceID) {
		return apperrors.New(apperrors.CodeDeviceNotInPool, "device is not in the current pool")
	}
	if w.st.IsSelected(deviceID) {
		delete(w.st.Selected, deviceID)
		return nil
	}
	if w.st.SelectedCount() >= w.st.RequestedQuantity {
		return apperrors.New(apperrors.CodeDeviceLimitReached, "selection already matches the requested quantity")
	}
	w.st.Selected[deviceID] = struct{}{}
	return nil
}

// FieldErrors returns the current validation verdict: every rule evaluated
// over the state, overlaid with any sticky setter-rejected input errors.
func (w *Workflow) FieldErrors() domain.FieldErrors {
	errs := domain.Validate(w.actor, w.st, w.products)
	for field, err := range w.sticky {
		errs[field] = err
	}
	return errs
}

// CanSubmit reports whether a submission is currently permitted.
func (w *Workflow) CanSubmit() bool {
	if w.st.SubmissionInFlight {
		return false
	}
	if !w.st.PoolMatchesKey() || len(w.st.DevicePool) == 0 {
		return false
	}
	return w.FieldErrors().Empty()
}

// BeginSubmit validates the state, raises the in-flight guard, and builds the
// allocation request. Re-entrant calls while a submission is outstanding are
// rejected, which is the idempotency guard against double-submit.
func (w *Workflow) BeginSubmit() (gateway.AllocationRequest, error) {
	if w.st.SubmissionInFlight {
		return gateway.AllocationRequest{}, apperrors.New(apperrors.CodeSubmissionInProgress, "an allocation submission is already in flight")
	}
	if !w.CanSubmit() {
		return gateway.AllocationRequest{}, apperrors.New(apperrors.CodeSubmissionBlocked, "selection state is not valid for submission")
	}

	w.st.SubmissionInFlight = true
	return gateway.AllocationRequest{
		FranchiseID: w.st.FranchiseID,
		MerchantID:  w.st.MerchantID,
		ProductID:   w.st.ProductID,
		Quantity:    w.st.RequestedQuantity,
		DeviceIDs:   w.st.SelectedDeviceIDs(),
	}, nil
}

// FinishSubmitSuccess applies a successful submission outcome: the selection
// resets to initial, retaining the franchise for franchise-locked actors.
func (w *Workflow) FinishSubmitSuccess() {
	w.st.SubmissionInFlight = false
	w.st.Reset(w.actor)
	w.sticky = make(domain.FieldErrors)
	w.poolGen++
	w.poolInFlight = nil
	if !w.actor.FranchiseLocked() {
		w.products = nil
		w.merchants = nil
		w.productsLoaded = false
		w.merchantsLoaded = false
		w.franchiseGen++
	}
}

// FinishSubmitFailure applies a failed submission outcome: selections stay
// intact for correction. When the server reports stock insufficiency the pool
// is marked stale so the validator forces a re-fetch before the next attempt.
func (w *Workflow) FinishSubmitFailure(err error) {
	w.st.SubmissionInFlight = false
	if gateway.IsStockInsufficient(err) {
		w.st.PoolFetchedForKey = nil
	}
}

// Cancel discards the in-progress selection, retaining the franchise for
// franchise-locked actors.
func (w *Workflow) Cancel() {
	w.st.Reset(w.actor)
	w.sticky = make(domain.FieldErrors)
	w.poolGen++
	w.poolInFlight = nil
}
