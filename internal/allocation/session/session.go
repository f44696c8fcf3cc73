// Package session drives one operator's allocation workflow against the
// inventory gateway. It owns the goroutines and the lock; the workflow
// underneath stays single-threaded and deterministic.
package session

import (
	"context"
	"log"
	"sync"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	"github.com/posworks/fleetconsole/internal/allocation/gateway"
	"github.com/posworks/fleetconsole/internal/allocation/workflow"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
	"github.com/posworks/fleetconsole/internal/platform/timeouts"
)

// Snapshot is a point-in-time read of the session for rendering. Everything in
// it is a copy; mutating a snapshot has no effect on the session.
type Snapshot struct {
	Actor       domain.Actor
	State       domain.SelectionState
	Franchises  []domain.FranchiseRef
	Products    []domain.ProductStock
	Merchants   []domain.MerchantRef
	FieldErrors domain.FieldErrors
	CanSubmit   bool
	PoolPending bool
	LoadError   error
}

// Session serializes access to a workflow and runs gateway fetches in the
// background, applying responses under the lock so stale ones are dropped.
type Session struct {
	mu sync.Mutex
	wf *workflow.Workflow

	inventory gateway.Inventory

	// poolPending mirrors whether a device-pool fetch is outstanding, for
	// rendering a loading indicator.
	poolPending bool

	// loadError holds the most recent background fetch failure. It is cleared
	// when the next fetch for the same concern succeeds or is re-issued.
	loadError error

	wg sync.WaitGroup
}

// New creates a session for the actor. Call Start to load initial data.
func New(actor domain.Actor, inventory gateway.Inventory) (*Session, error) {
	if inventory == nil {
		return nil, apperrors.New(apperrors.CodeUnknown, "inventory gateway is required")
	}
	wf, err := workflow.New(actor)
	if err != nil {
		return nil, err
	}
	return &Session{wf: wf, inventory: inventory}, nil
}

// Start loads the data the operator needs before making any selection. Admin
// actors get the franchise list; franchise-locked actors go straight to their
// fixed franchise's products and merchants.
func (s *Session) Start(ctx context.Context) error {
	actor := s.wf.Actor()
	if actor.FranchiseLocked() {
		return s.SetFranchise(actor.FranchiseID)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.GatewayRequest)
	defer cancel()

	franchises, err := s.inventory.ListFranchises(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.wf.SetFranchises(franchises)
	s.mu.Unlock()
	return nil
}

// SetFranchise changes the franchise and starts background loads of its
// products and merchants. Responses for a superseded franchise are dropped.
func (s *Session) SetFranchise(id string) error {
	s.mu.Lock()
	ticket, err := s.wf.SetFranchise(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.loadError = nil
	s.poolPending = false
	s.mu.Unlock()

	s.wg.Add(2)
	go s.loadProducts(ticket)
	go s.loadMerchants(ticket)
	return nil
}

func (s *Session) loadProducts(ticket workflow.FranchiseTicket) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.GatewayRequest)
	defer cancel()

	products, err := s.inventory.ListProducts(ctx, ticket.FranchiseID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.wf.AbandonFranchiseLoad(ticket) {
			log.Printf("list products for franchise %s: %v", ticket.FranchiseID, err)
			s.loadError = err
		}
		return
	}
	s.wf.ApplyProducts(ticket, products)
}

func (s *Session) loadMerchants(ticket workflow.FranchiseTicket) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.GatewayRequest)
	defer cancel()

	merchants, err := s.inventory.ListMerchants(ctx, ticket.FranchiseID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.wf.AbandonFranchiseLoad(ticket) {
			log.Printf("list merchants for franchise %s: %v", ticket.FranchiseID, err)
			s.loadError = err
		}
		return
	}
	s.wf.ApplyMerchants(ticket, merchants)
}

// SetProduct forwards to the workflow. A product change supersedes any
// in-flight pool fetch, so the pending flag is dropped with it.
func (s *Session) SetProduct(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.wf.SetProduct(id)
	if !s.wf.PoolFetchInFlight() {
		s.poolPending = false
	}
	return err
}

// SetQuantity forwards to the workflow. A re-keying quantity change
// supersedes any in-flight pool fetch, so the pending flag is dropped with it.
func (s *Session) SetQuantity(quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.wf.SetQuantity(quantity)
	if !s.wf.PoolFetchInFlight() {
		s.poolPending = false
	}
	return err
}

// SetMerchant forwards to the workflow.
func (s *Session) SetMerchant(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wf.SetMerchant(id)
}

// ToggleDevice forwards to the workflow.
func (s *Session) ToggleDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wf.ToggleDevice(deviceID)
}

// FetchDevicePool starts a background load of the dispatchable device pool for
// the current product and quantity. A fetch already in flight for the same key
// is reused; a fetch for a different key supersedes it.
func (s *Session) FetchDevicePool() error {
	s.mu.Lock()
	ticket, coalesced, err := s.wf.BeginDevicePoolFetch()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if coalesced {
		s.mu.Unlock()
		return nil
	}
	s.poolPending = true
	s.loadError = nil
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loadDevicePool(ticket)
	return nil
}

func (s *Session) loadDevicePool(ticket workflow.PoolTicket) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.GatewayRequest)
	defer cancel()

	devices, err := s.inventory.ListDispatchableDevices(ctx, ticket.Key.ProductID, ticket.FranchiseID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.wf.AbandonDevicePoolFetch(ticket) {
			log.Printf("list devices for product %s: %v", ticket.Key.ProductID, err)
			s.poolPending = false
			s.loadError = err
		}
		return
	}
	if s.wf.ApplyDevicePool(ticket, devices) {
		s.poolPending = false
	}
}

// Submit runs the allocation submission synchronously. The in-flight guard is
// raised before the lock is released, so a second Submit racing this one fails
// with SubmissionInProgress instead of double-submitting.
func (s *Session) Submit(ctx context.Context) (gateway.AllocationResult, error) {
	s.mu.Lock()
	req, err := s.wf.BeginSubmit()
	if err != nil {
		s.mu.Unlock()
		return gateway.AllocationResult{}, err
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeouts.AllocationSubmit)
	defer cancel()

	result, err := s.inventory.SubmitAllocation(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.wf.FinishSubmitFailure(err)
		return gateway.AllocationResult{}, err
	}
	s.wf.FinishSubmitSuccess()
	return result, nil
}

// Cancel discards the in-progress selection.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wf.Cancel()
	s.poolPending = false
	s.loadError = nil
}

// Snapshot returns a copy of everything a renderer needs.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Actor:       s.wf.Actor(),
		State:       s.wf.State(),
		Franchises:  s.wf.Franchises(),
		Products:    s.wf.Products(),
		Merchants:   s.wf.Merchants(),
		FieldErrors: s.wf.FieldErrors().Clone(),
		CanSubmit:   s.wf.CanSubmit(),
		PoolPending: s.poolPending,
		LoadError:   s.loadError,
	}
}

// Wait blocks until all background fetches started so far have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}
