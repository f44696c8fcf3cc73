package session

import (
	"context"
	"errors"
	"testing"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	"github.com/posworks/fleetconsole/internal/allocation/gateway"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
)

var (
	adminActor  = domain.Actor{Subject: "op-admin", Role: domain.RoleAdmin}
	lockedActor = domain.Actor{Subject: "op-fr", Role: domain.RoleFranchise, FranchiseID: "fr1"}
)

// fakeInventory implements gateway.Inventory with per-call hooks so tests can
// control timing and failures.
type fakeInventory struct {
	franchises func(ctx context.Context) ([]domain.FranchiseRef, error)
	products   func(ctx context.Context, franchiseID string) ([]domain.ProductStock, error)
	merchants  func(ctx context.Context, franchiseID string) ([]domain.MerchantRef, error)
	devices    func(ctx context.Context, productID, franchiseID string) ([]domain.DeviceRecord, error)
	submit     func(ctx context.Context, req gateway.AllocationRequest) (gateway.AllocationResult, error)
}

func (f *fakeInventory) ListFranchises(ctx context.Context) ([]domain.FranchiseRef, error) {
	if f.franchises == nil {
		return []domain.FranchiseRef{{ID: "fr1", DisplayName: "North"}}, nil
	}
	return f.franchises(ctx)
}

func (f *fakeInventory) ListProducts(ctx context.Context, franchiseID string) ([]domain.ProductStock, error) {
	if f.products == nil {
		return []domain.ProductStock{{ProductID: "p1", DisplayName: "Terminal X2", AvailableQuantity: 10}}, nil
	}
	return f.products(ctx, franchiseID)
}

func (f *fakeInventory) ListMerchants(ctx context.Context, franchiseID string) ([]domain.MerchantRef, error) {
	if f.merchants == nil {
		return []domain.MerchantRef{{ID: "m1", DisplayName: "Corner Store"}}, nil
	}
	return f.merchants(ctx, franchiseID)
}

func (f *fakeInventory) ListDispatchableDevices(ctx context.Context, productID, franchiseID string) ([]domain.DeviceRecord, error) {
	if f.devices == nil {
		return []domain.DeviceRecord{{ID: "d1"}, {ID: "d2"}, {ID: "d3"}}, nil
	}
	return f.devices(ctx, productID, franchiseID)
}

func (f *fakeInventory) SubmitAllocation(ctx context.Context, req gateway.AllocationRequest) (gateway.AllocationResult, error) {
	if f.submit == nil {
		return gateway.AllocationResult{DistributionID: "dist1"}, nil
	}
	return f.submit(ctx, req)
}

// readySession builds a session with fr1/p1/quantity 2/m1 selected and a
// two-device pool fetched and fully selected.
func readySession(t *testing.T, inv *fakeInventory) *Session {
	t.Helper()
	if inv.devices == nil {
		inv.devices = func(ctx context.Context, productID, franchiseID string) ([]domain.DeviceRecord, error) {
			return []domain.DeviceRecord{{ID: "d1"}, {ID: "d2"}}, nil
		}
	}
	sess, err := New(adminActor, inv)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sess.SetFranchise("fr1"); err != nil {
		t.Fatalf("set franchise: %v", err)
	}
	sess.Wait()
	if err := sess.SetProduct("p1"); err != nil {
		t.Fatalf("set product: %v", err)
	}
	if err := sess.SetQuantity(2); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if err := sess.SetMerchant("m1"); err != nil {
		t.Fatalf("set merchant: %v", err)
	}
	if err := sess.FetchDevicePool(); err != nil {
		t.Fatalf("fetch pool: %v", err)
	}
	sess.Wait()
	for _, id := range []string{"d1", "d2"} {
		if err := sess.ToggleDevice(id); err != nil {
			t.Fatalf("toggle %s: %v", id, err)
		}
	}
	return sess
}

func TestStartAdminLoadsFranchises(t *testing.T) {
	sess, err := New(adminActor, &fakeInventory{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := sess.Snapshot()
	if len(snap.Franchises) != 1 || snap.Franchises[0].ID != "fr1" {
		t.Fatalf("expected franchise list loaded, got %+v", snap.Franchises)
	}
	if snap.State.FranchiseID != "" {
		t.Fatal("admin should start with no franchise selected")
	}
}

func TestStartLockedActorLoadsFranchiseData(t *testing.T) {
	sess, err := New(lockedActor, &fakeInventory{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess.Wait()

	snap := sess.Snapshot()
	if snap.State.FranchiseID != "fr1" {
		t.Fatalf("expected fixed franchise selected, got %q", snap.State.FranchiseID)
	}
	if len(snap.Products) == 0 || len(snap.Merchants) == 0 {
		t.Fatal("expected products and merchants loaded for fixed franchise")
	}
}

func TestSlowResponseForOldFranchiseDropped(t *testing.T) {
	release := make(chan struct{})
	inv := &fakeInventory{
		products: func(ctx context.Context, franchiseID string) ([]domain.ProductStock, error) {
			if franchiseID == "frA" {
				// Simulate a slow backend: hold the response until the test
				// has moved the operator to frB.
				<-release
				return []domain.ProductStock{{ProductID: "pa", DisplayName: "Old", AvailableQuantity: 1}}, nil
			}
			return []domain.ProductStock{{ProductID: "pb", DisplayName: "New", AvailableQuantity: 1}}, nil
		},
	}
	sess, err := New(adminActor, inv)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if err := sess.SetFranchise("frA"); err != nil {
		t.Fatalf("set franchise A: %v", err)
	}
	if err := sess.SetFranchise("frB"); err != nil {
		t.Fatalf("set franchise B: %v", err)
	}
	close(release)
	sess.Wait()

	snap := sess.Snapshot()
	if len(snap.Products) != 1 || snap.Products[0].ProductID != "pb" {
		t.Fatalf("expected products for frB only, got %+v", snap.Products)
	}
}

func TestFetchDevicePoolFailureAllowsRetry(t *testing.T) {
	calls := 0
	inv := &fakeInventory{
		devices: func(ctx context.Context, productID, franchiseID string) ([]domain.DeviceRecord, error) {
			calls++
			if calls == 1 {
				return nil, apperrors.Wrap(apperrors.CodeTransportFailure, "list devices", errors.New("connection refused"))
			}
			return []domain.DeviceRecord{{ID: "d1"}, {ID: "d2"}}, nil
		},
	}
	sess, err := New(adminActor, inv)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.SetFranchise("fr1"); err != nil {
		t.Fatalf("set franchise: %v", err)
	}
	sess.Wait()
	if err := sess.SetProduct("p1"); err != nil {
		t.Fatalf("set product: %v", err)
	}
	if err := sess.SetQuantity(2); err != nil {
		t.Fatalf("set quantity: %v", err)
	}

	if err := sess.FetchDevicePool(); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	sess.Wait()
	snap := sess.Snapshot()
	if snap.LoadError == nil {
		t.Fatal("expected fetch failure surfaced")
	}
	if snap.PoolPending {
		t.Fatal("expected pending flag cleared after failure")
	}

	if err := sess.FetchDevicePool(); err != nil {
		t.Fatalf("retry fetch: %v", err)
	}
	sess.Wait()
	snap = sess.Snapshot()
	if snap.LoadError != nil {
		t.Fatalf("expected error cleared on retry, got %v", snap.LoadError)
	}
	if len(snap.State.DevicePool) != 2 {
		t.Fatalf("expected pool loaded on retry, got %d devices", len(snap.State.DevicePool))
	}
}

func TestRekeyingQuantityClearsPendingPool(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	inv := &fakeInventory{
		devices: func(ctx context.Context, productID, franchiseID string) ([]domain.DeviceRecord, error) {
			close(entered)
			<-release
			return []domain.DeviceRecord{{ID: "d1"}, {ID: "d2"}}, nil
		},
	}
	sess, err := New(adminActor, inv)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.SetFranchise("fr1"); err != nil {
		t.Fatalf("set franchise: %v", err)
	}
	sess.Wait()
	if err := sess.SetProduct("p1"); err != nil {
		t.Fatalf("set product: %v", err)
	}
	if err := sess.SetQuantity(2); err != nil {
		t.Fatalf("set quantity: %v", err)
	}

	if err := sess.FetchDevicePool(); err != nil {
		t.Fatalf("fetch pool: %v", err)
	}
	<-entered
	if !sess.Snapshot().PoolPending {
		t.Fatal("expected pending flag while the fetch is in flight")
	}

	// Changing the quantity supersedes the fetch, so nothing is loading for
	// the new key and the indicator must drop immediately.
	if err := sess.SetQuantity(3); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if sess.Snapshot().PoolPending {
		t.Fatal("expected pending flag cleared when the fetch is superseded")
	}

	close(release)
	sess.Wait()
	snap := sess.Snapshot()
	if snap.PoolPending {
		t.Fatal("expected pending flag still cleared after the stale response")
	}
	if len(snap.State.DevicePool) != 0 {
		t.Fatalf("superseded response must be dropped, got pool %+v", snap.State.DevicePool)
	}
}

func TestSubmitGuardAgainstConcurrentSubmit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	inv := &fakeInventory{
		submit: func(ctx context.Context, req gateway.AllocationRequest) (gateway.AllocationResult, error) {
			close(entered)
			<-release
			return gateway.AllocationResult{DistributionID: "dist1"}, nil
		},
	}
	sess := readySession(t, inv)

	done := make(chan error, 1)
	go func() {
		_, err := sess.Submit(context.Background())
		done <- err
	}()
	<-entered

	// A second submit while the first is in flight must be rejected.
	_, err := sess.Submit(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeSubmissionInProgress) {
		t.Fatalf("expected submission in progress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
}

func TestSubmitSuccessResetsSelection(t *testing.T) {
	var got gateway.AllocationRequest
	inv := &fakeInventory{
		submit: func(ctx context.Context, req gateway.AllocationRequest) (gateway.AllocationResult, error) {
			got = req
			return gateway.AllocationResult{DistributionID: "dist1"}, nil
		},
	}
	sess := readySession(t, inv)

	result, err := sess.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.DistributionID != "dist1" {
		t.Fatalf("unexpected distribution id %q", result.DistributionID)
	}
	if got.FranchiseID != "fr1" || got.ProductID != "p1" || got.Quantity != 2 || len(got.DeviceIDs) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}

	snap := sess.Snapshot()
	if snap.State.FranchiseID != "" || snap.State.ProductID != "" {
		t.Fatalf("expected selection reset after success, got %+v", snap.State)
	}
}

func TestSubmitStockRejectionMarksPoolStale(t *testing.T) {
	inv := &fakeInventory{
		submit: func(ctx context.Context, req gateway.AllocationRequest) (gateway.AllocationResult, error) {
			return gateway.AllocationResult{}, apperrors.New(apperrors.CodeStockInsufficient, "device d2 no longer in stock")
		},
	}
	sess := readySession(t, inv)

	_, err := sess.Submit(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeStockInsufficient) {
		t.Fatalf("expected stock insufficient, got %v", err)
	}

	snap := sess.Snapshot()
	if snap.State.ProductID != "p1" || snap.State.RequestedQuantity != 2 {
		t.Fatal("expected selections preserved after rejection")
	}
	if snap.State.PoolFetchedForKey != nil {
		t.Fatal("expected pool marked stale after stock rejection")
	}
	if snap.CanSubmit {
		t.Fatal("expected re-fetch required before retry")
	}
}
