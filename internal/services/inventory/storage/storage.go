// Package storage defines persistence contracts for inventory service state.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrMerchantInactive indicates the target merchant is deactivated.
	ErrMerchantInactive = errors.New("merchant is inactive")
)

// DeviceUnavailableError indicates a device could not be claimed because it is
// no longer in stock. The whole allocation rolls back when this is returned.
type DeviceUnavailableError struct {
	DeviceID string
}

func (e *DeviceUnavailableError) Error() string {
	return fmt.Sprintf("device %s is not in stock", e.DeviceID)
}

// Device status values.
const (
	DeviceStatusInStock   = "IN_STOCK"
	DeviceStatusAllocated = "ALLOCATED"
)

// Franchise stores one franchise record.
type Franchise struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Product stores one product model record. Stock is derived from device rows.
type Product struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// ProductStock is a product with its live in-stock count for one franchise.
type ProductStock struct {
	ProductID         string
	DisplayName       string
	AvailableQuantity int
}

// Merchant stores one merchant registered under a franchise.
type Merchant struct {
	ID           string
	FranchiseID  string
	DisplayName  string
	ContactEmail string
	Active       bool
	CreatedAt    time.Time
}

// Device stores one physical device row.
type Device struct {
	ID                 string
	SerialID           string
	FranchiseID        string
	ProductID          string
	MerchantIdentifier string
	TerminalIdentifier string
	VPAIdentifier      string
	Status             string
	UpdatedAt          time.Time
}

// Allocation stores one distribution record with its claimed devices.
type Allocation struct {
	DistributionID string
	FranchiseID    string
	MerchantID     string
	ProductID      string
	Quantity       int
	DeviceIDs      []string
	CreatedBy      string
	CreatedAt      time.Time
}

// Store persists inventory state. CreateAllocation is all-or-nothing: either
// every requested device flips from in stock to allocated or none do.
type Store interface {
	CreateFranchise(ctx context.Context, franchise Franchise) error
	ListFranchises(ctx context.Context) ([]Franchise, error)

	CreateProduct(ctx context.Context, product Product) error
	ListProductStock(ctx context.Context, franchiseID string) ([]ProductStock, error)

	CreateMerchant(ctx context.Context, merchant Merchant) error
	ListMerchants(ctx context.Context, franchiseID string) ([]Merchant, error)

	CreateDevice(ctx context.Context, device Device) error
	// ListInStockDevices returns in-stock devices for the product under the
	// franchise. A limit of zero or less returns every matching row.
	ListInStockDevices(ctx context.Context, franchiseID, productID string, limit int) ([]Device, error)

	CreateAllocation(ctx context.Context, allocation Allocation) error
	ListAllocations(ctx context.Context, franchiseID string) ([]Allocation, error)
}
