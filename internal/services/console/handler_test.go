package console

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	"github.com/posworks/fleetconsole/internal/allocation/gateway"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
	"github.com/posworks/fleetconsole/internal/services/shared/operatortoken"
)

const (
	testIssuer   = "https://identity.posworks.test"
	testAudience = "fleetconsole"
)

type fakeInventory struct {
	submitErr error
}

func (f *fakeInventory) ListFranchises(ctx context.Context) ([]domain.FranchiseRef, error) {
	return []domain.FranchiseRef{
		{ID: "fr1", DisplayName: "North"},
		{ID: "fr2", DisplayName: "South"},
	}, nil
}

func (f *fakeInventory) ListProducts(ctx context.Context, franchiseID string) ([]domain.ProductStock, error) {
	return []domain.ProductStock{
		{ProductID: "p1", DisplayName: "Terminal X2", AvailableQuantity: 5},
	}, nil
}

func (f *fakeInventory) ListMerchants(ctx context.Context, franchiseID string) ([]domain.MerchantRef, error) {
	return []domain.MerchantRef{
		{ID: "m1", DisplayName: "Corner Store"},
	}, nil
}

func (f *fakeInventory) ListDispatchableDevices(ctx context.Context, productID, franchiseID string) ([]domain.DeviceRecord, error) {
	return []domain.DeviceRecord{
		{ID: "d1", SerialID: "sn-d1"},
		{ID: "d2", SerialID: "sn-d2"},
		{ID: "d3", SerialID: "sn-d3"},
	}, nil
}

func (f *fakeInventory) SubmitAllocation(ctx context.Context, req gateway.AllocationRequest) (gateway.AllocationResult, error) {
	if f.submitErr != nil {
		return gateway.AllocationResult{}, f.submitErr
	}
	return gateway.AllocationResult{DistributionID: "dist1"}, nil
}

type testEnv struct {
	handler   http.Handler
	priv      ed25519.PrivateKey
	inventory *fakeInventory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	inventory := &fakeInventory{}
	handler := NewHandler(
		operatortoken.Config{Issuer: testIssuer, Audience: testAudience, Key: pub},
		func(token func() (string, error)) (gateway.Inventory, error) {
			return inventory, nil
		},
	)
	return &testEnv{handler: handler, priv: priv, inventory: inventory}
}

func (e *testEnv) token(t *testing.T, subject string, role domain.Role, franchiseID string) string {
	t.Helper()
	token, err := operatortoken.Sign(e.priv, testIssuer, testAudience, operatortoken.Claims{
		Subject:     subject,
		Role:        role,
		FranchiseID: franchiseID,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
		req = httptest.NewRequest(method, target, buf)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeSnapshot(t *testing.T, recorder *httptest.ResponseRecorder) snapshotBody {
	t.Helper()
	var snap snapshotBody
	if err := json.NewDecoder(recorder.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

// waitForSnapshot polls the snapshot endpoint until check passes or the
// deadline expires. Background fetches finish quickly against the fake
// gateway, but they are still asynchronous.
func (e *testEnv) waitForSnapshot(t *testing.T, token string, check func(snapshotBody) bool) snapshotBody {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		recorder := e.do(t, http.MethodGet, "/v1/session", token, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("snapshot status = %d: %s", recorder.Code, recorder.Body.String())
		}
		snap := decodeSnapshot(t, recorder)
		if check(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never reached expected state, last %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.do(t, http.MethodGet, "/v1/session", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestAdminAllocationFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "op-admin", domain.RoleAdmin, "")

	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/v1/session", token, nil))
	if len(snap.Franchises) != 2 {
		t.Fatalf("expected franchise list on first snapshot, got %+v", snap.Franchises)
	}

	recorder := env.do(t, http.MethodPost, "/v1/session/franchise", token, franchiseRequest{FranchiseID: "fr1"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("set franchise status = %d: %s", recorder.Code, recorder.Body.String())
	}
	env.waitForSnapshot(t, token, func(snap snapshotBody) bool {
		return len(snap.Products) > 0 && len(snap.Merchants) > 0
	})

	for _, step := range []struct {
		path string
		body any
	}{
		{"/v1/session/product", productRequest{ProductID: "p1"}},
		{"/v1/session/quantity", quantityRequest{Quantity: 3}},
		{"/v1/session/merchant", merchantRequest{MerchantID: "m1"}},
		{"/v1/session/devices/fetch", struct{}{}},
	} {
		recorder := env.do(t, http.MethodPost, step.path, token, step.body)
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s status = %d: %s", step.path, recorder.Code, recorder.Body.String())
		}
	}
	env.waitForSnapshot(t, token, func(snap snapshotBody) bool {
		return snap.PoolCurrent && len(snap.DevicePool) == 3
	})

	for _, deviceID := range []string{"d1", "d2", "d3"} {
		recorder := env.do(t, http.MethodPost, "/v1/session/devices/toggle", token, toggleRequest{DeviceID: deviceID})
		if recorder.Code != http.StatusOK {
			t.Fatalf("toggle %s status = %d: %s", deviceID, recorder.Code, recorder.Body.String())
		}
	}
	snap = decodeSnapshot(t, env.do(t, http.MethodGet, "/v1/session", token, nil))
	if !snap.CanSubmit {
		t.Fatalf("expected submittable snapshot, got %+v", snap)
	}

	recorder = env.do(t, http.MethodPost, "/v1/session/submit", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", recorder.Code, recorder.Body.String())
	}
	var result submitResponse
	if err := json.NewDecoder(recorder.Body).Decode(&result); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if result.DistributionID != "dist1" {
		t.Fatalf("distribution id = %q, want dist1", result.DistributionID)
	}
	if result.Snapshot.FranchiseID != "" || result.Snapshot.CanSubmit {
		t.Fatalf("expected reset snapshot after submit, got %+v", result.Snapshot)
	}
}

func TestLockedActorFranchisePrefilled(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "op-fr", domain.RoleFranchise, "fr1")

	snap := env.waitForSnapshot(t, token, func(snap snapshotBody) bool {
		return len(snap.Products) > 0
	})
	if snap.FranchiseID != "fr1" {
		t.Fatalf("franchise = %q, want fr1", snap.FranchiseID)
	}

	recorder := env.do(t, http.MethodPost, "/v1/session/franchise", token, franchiseRequest{FranchiseID: "fr2"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("cross-franchise switch status = %d, want 409", recorder.Code)
	}
}

func TestQuantityExceedingStockRejectedAndSticky(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "op-admin", domain.RoleAdmin, "")

	env.do(t, http.MethodPost, "/v1/session/franchise", token, franchiseRequest{FranchiseID: "fr1"})
	env.waitForSnapshot(t, token, func(snap snapshotBody) bool {
		return len(snap.Products) > 0
	})
	env.do(t, http.MethodPost, "/v1/session/product", token, productRequest{ProductID: "p1"})

	recorder := env.do(t, http.MethodPost, "/v1/session/quantity", token, quantityRequest{Quantity: 99})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}

	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/v1/session", token, nil))
	fieldErr, ok := snap.FieldErrors["quantity"]
	if !ok {
		t.Fatalf("expected sticky quantity error, got %+v", snap.FieldErrors)
	}
	if fieldErr.Code != string(apperrors.CodeQuantityExceedsStock) {
		t.Fatalf("field error code = %s, want %s", fieldErr.Code, apperrors.CodeQuantityExceedsStock)
	}
	if snap.Quantity != 0 {
		t.Fatalf("rejected quantity must not be stored, got %d", snap.Quantity)
	}
}

func TestSubmitStockRejectionSurfaced(t *testing.T) {
	env := newTestEnv(t)
	env.inventory.submitErr = apperrors.New(apperrors.CodeStockInsufficient, "device d2 no longer in stock")
	token := env.token(t, "op-admin", domain.RoleAdmin, "")

	env.do(t, http.MethodPost, "/v1/session/franchise", token, franchiseRequest{FranchiseID: "fr1"})
	env.waitForSnapshot(t, token, func(snap snapshotBody) bool {
		return len(snap.Products) > 0
	})
	env.do(t, http.MethodPost, "/v1/session/product", token, productRequest{ProductID: "p1"})
	env.do(t, http.MethodPost, "/v1/session/quantity", token, quantityRequest{Quantity: 2})
	env.do(t, http.MethodPost, "/v1/session/merchant", token, merchantRequest{MerchantID: "m1"})
	env.do(t, http.MethodPost, "/v1/session/devices/fetch", token, nil)
	env.waitForSnapshot(t, token, func(snap snapshotBody) bool {
		return snap.PoolCurrent
	})
	env.do(t, http.MethodPost, "/v1/session/devices/toggle", token, toggleRequest{DeviceID: "d1"})
	env.do(t, http.MethodPost, "/v1/session/devices/toggle", token, toggleRequest{DeviceID: "d2"})

	recorder := env.do(t, http.MethodPost, "/v1/session/submit", token, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("submit status = %d, want 409", recorder.Code)
	}

	// Selections survive the rejection but the pool is stale until re-fetched.
	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/v1/session", token, nil))
	if snap.ProductID != "p1" || snap.Quantity != 2 || len(snap.SelectedDeviceIDs) != 2 {
		t.Fatalf("expected selections preserved, got %+v", snap)
	}
	if snap.PoolCurrent {
		t.Fatal("expected stale pool after stock rejection")
	}
	if snap.CanSubmit {
		t.Fatal("expected submission blocked until re-fetch")
	}
}
