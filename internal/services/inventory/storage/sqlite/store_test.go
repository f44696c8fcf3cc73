package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/posworks/fleetconsole/internal/services/inventory/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestCreateFranchiseDuplicate(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	franchise := storage.Franchise{ID: "fr1", DisplayName: "North"}
	if err := store.CreateFranchise(context.Background(), franchise); err != nil {
		t.Fatalf("create franchise: %v", err)
	}
	err := store.CreateFranchise(context.Background(), franchise)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate create error = %v, want %v", err, storage.ErrAlreadyExists)
	}
}

func TestListProductStockCountsInStockOnly(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedBase(t, store)
	seedDevices(t, store, "fr1", "p1", "d1", "d2", "d3")
	seedDevices(t, store, "fr1", "p2")

	// An allocated device must not count toward stock.
	if err := store.CreateDevice(context.Background(), storage.Device{
		ID: "d9", SerialID: "sn-d9", FranchiseID: "fr1", ProductID: "p1",
		Status: storage.DeviceStatusAllocated,
	}); err != nil {
		t.Fatalf("create allocated device: %v", err)
	}

	stock, err := store.ListProductStock(context.Background(), "fr1")
	if err != nil {
		t.Fatalf("list product stock: %v", err)
	}
	byID := make(map[string]int)
	for _, item := range stock {
		byID[item.ProductID] = item.AvailableQuantity
	}
	if byID["p1"] != 3 {
		t.Fatalf("p1 stock = %d, want 3", byID["p1"])
	}
	if got, ok := byID["p2"]; !ok || got != 0 {
		t.Fatalf("p2 stock = %d (present %v), want 0 and listed", got, ok)
	}
}

func TestListInStockDevicesScopedAndLimited(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedBase(t, store)
	seedDevices(t, store, "fr1", "p1", "d1", "d2", "d3")
	seedDevices(t, store, "fr2", "p1", "x1")

	devices, err := store.ListInStockDevices(context.Background(), "fr1", "p1", 2)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	for _, device := range devices {
		if device.FranchiseID != "fr1" {
			t.Fatalf("device %s belongs to %s, want fr1", device.ID, device.FranchiseID)
		}
	}
}

func TestListInStockDevicesUnlimitedReturnsAllRows(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedBase(t, store)
	ids := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		ids = append(ids, fmt.Sprintf("d%03d", i))
	}
	seedDevices(t, store, "fr1", "p1", ids...)

	devices, err := store.ListInStockDevices(context.Background(), "fr1", "p1", 0)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(devices) != 150 {
		t.Fatalf("expected all 150 devices, got %d", len(devices))
	}
}

func TestCreateAllocationClaimsDevices(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedBase(t, store)
	seedDevices(t, store, "fr1", "p1", "d1", "d2")

	err := store.CreateAllocation(context.Background(), storage.Allocation{
		DistributionID: "dist1",
		FranchiseID:    "fr1",
		MerchantID:     "m1",
		ProductID:      "p1",
		Quantity:       2,
		DeviceIDs:      []string{"d1", "d2"},
		CreatedBy:      "op-1",
		CreatedAt:      time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create allocation: %v", err)
	}

	remaining, err := store.ListInStockDevices(context.Background(), "fr1", "p1", 10)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no devices left in stock, got %d", len(remaining))
	}

	allocations, err := store.ListAllocations(context.Background(), "fr1")
	if err != nil {
		t.Fatalf("list allocations: %v", err)
	}
	if len(allocations) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(allocations))
	}
	got := allocations[0]
	if got.DistributionID != "dist1" || got.Quantity != 2 || len(got.DeviceIDs) != 2 {
		t.Fatalf("unexpected allocation %+v", got)
	}
}

func TestCreateAllocationRollsBackWhenDeviceClaimed(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedBase(t, store)
	seedDevices(t, store, "fr1", "p1", "d1", "d2", "d3")

	// d2 is grabbed by a concurrent allocation first.
	if err := store.CreateAllocation(context.Background(), storage.Allocation{
		DistributionID: "dist0", FranchiseID: "fr1", MerchantID: "m1", ProductID: "p1",
		Quantity: 1, DeviceIDs: []string{"d2"}, CreatedBy: "op-2",
	}); err != nil {
		t.Fatalf("concurrent allocation: %v", err)
	}

	err := store.CreateAllocation(context.Background(), storage.Allocation{
		DistributionID: "dist1", FranchiseID: "fr1", MerchantID: "m1", ProductID: "p1",
		Quantity: 3, DeviceIDs: []string{"d1", "d2", "d3"}, CreatedBy: "op-1",
	})
	var unavailable *storage.DeviceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected device unavailable error, got %v", err)
	}
	if unavailable.DeviceID != "d2" {
		t.Fatalf("unavailable device = %s, want d2", unavailable.DeviceID)
	}

	// All-or-nothing: d1 and d3 must still be in stock.
	remaining, err := store.ListInStockDevices(context.Background(), "fr1", "p1", 10)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 devices still in stock, got %d", len(remaining))
	}
}

func TestCreateAllocationInactiveMerchant(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedBase(t, store)
	seedDevices(t, store, "fr1", "p1", "d1")
	if err := store.CreateMerchant(context.Background(), storage.Merchant{
		ID: "m-off", FranchiseID: "fr1", DisplayName: "Closed Shop", Active: false,
	}); err != nil {
		t.Fatalf("create merchant: %v", err)
	}

	err := store.CreateAllocation(context.Background(), storage.Allocation{
		DistributionID: "dist1", FranchiseID: "fr1", MerchantID: "m-off", ProductID: "p1",
		Quantity: 1, DeviceIDs: []string{"d1"}, CreatedBy: "op-1",
	})
	if !errors.Is(err, storage.ErrMerchantInactive) {
		t.Fatalf("expected inactive merchant error, got %v", err)
	}
}

func TestCreateAllocationMerchantWrongFranchise(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedBase(t, store)
	seedDevices(t, store, "fr1", "p1", "d1")

	err := store.CreateAllocation(context.Background(), storage.Allocation{
		DistributionID: "dist1", FranchiseID: "fr1", MerchantID: "m2", ProductID: "p1",
		Quantity: 1, DeviceIDs: []string{"d1"}, CreatedBy: "op-1",
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for cross-franchise merchant, got %v", err)
	}
}

func TestListMerchantsExcludesInactive(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedBase(t, store)
	if err := store.CreateMerchant(context.Background(), storage.Merchant{
		ID: "m-off", FranchiseID: "fr1", DisplayName: "Closed Shop", Active: false,
	}); err != nil {
		t.Fatalf("create merchant: %v", err)
	}

	merchants, err := store.ListMerchants(context.Background(), "fr1")
	if err != nil {
		t.Fatalf("list merchants: %v", err)
	}
	for _, merchant := range merchants {
		if !merchant.Active {
			t.Fatalf("inactive merchant %s returned", merchant.ID)
		}
	}
}

// seedBase creates two franchises, two products, and one active merchant per
// franchise.
func seedBase(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	for _, franchise := range []storage.Franchise{
		{ID: "fr1", DisplayName: "North"},
		{ID: "fr2", DisplayName: "South"},
	} {
		if err := store.CreateFranchise(ctx, franchise); err != nil {
			t.Fatalf("seed franchise %s: %v", franchise.ID, err)
		}
	}
	for _, product := range []storage.Product{
		{ID: "p1", DisplayName: "Terminal X2"},
		{ID: "p2", DisplayName: "Soundbox Mini"},
	} {
		if err := store.CreateProduct(ctx, product); err != nil {
			t.Fatalf("seed product %s: %v", product.ID, err)
		}
	}
	for _, merchant := range []storage.Merchant{
		{ID: "m1", FranchiseID: "fr1", DisplayName: "Corner Store", Active: true},
		{ID: "m2", FranchiseID: "fr2", DisplayName: "Bakery", Active: true},
	} {
		if err := store.CreateMerchant(ctx, merchant); err != nil {
			t.Fatalf("seed merchant %s: %v", merchant.ID, err)
		}
	}
}

func seedDevices(t *testing.T, store *Store, franchiseID, productID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := store.CreateDevice(context.Background(), storage.Device{
			ID:          id,
			SerialID:    "sn-" + id,
			FranchiseID: franchiseID,
			ProductID:   productID,
		}); err != nil {
			t.Fatalf("seed device %s: %v", id, err)
		}
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "inventory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
