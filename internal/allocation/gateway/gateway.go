// Package gateway defines the inventory collaborator contract consumed by the
// allocation workflow. Implementations live elsewhere; the workflow only sees
// this interface.
package gateway

import (
	"context"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
)

// AllocationRequest is the all-or-nothing allocation submission payload.
type AllocationRequest struct {
	FranchiseID string
	MerchantID  string
	ProductID   string
	Quantity    int
	DeviceIDs   []string
}

// AllocationResult is the server's record of a successful allocation.
type AllocationResult struct {
	DistributionID string
}

// Inventory is the inventory service contract. All calls are authoritative on
// the server side; listings are advisory snapshots on the client.
type Inventory interface {
	ListFranchises(ctx context.Context) ([]domain.FranchiseRef, error)
	ListProducts(ctx context.Context, franchiseID string) ([]domain.ProductStock, error)
	ListMerchants(ctx context.Context, franchiseID string) ([]domain.MerchantRef, error)
	ListDispatchableDevices(ctx context.Context, productID, franchiseID string) ([]domain.DeviceRecord, error)
	SubmitAllocation(ctx context.Context, req AllocationRequest) (AllocationResult, error)
}

// IsTransport reports whether the error is a network-level failure that the
// operator may simply retry.
func IsTransport(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeTransportFailure)
}

// IsStockInsufficient reports whether the server rejected an allocation
// because stock was consumed concurrently.
func IsStockInsufficient(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeStockInsufficient)
}
