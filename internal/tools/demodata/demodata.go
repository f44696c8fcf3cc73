// Package demodata seeds an inventory store with a small fleet for local
// development. Seeding is idempotent: a store that already holds franchises is
// left untouched.
package demodata

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/posworks/fleetconsole/internal/services/inventory/storage"
)

type franchiseSeed struct {
	franchise storage.Franchise
	merchants []storage.Merchant
	devices   map[string]int
}

var products = []storage.Product{
	{ID: "prd-a920", DisplayName: "A920 Smart Terminal"},
	{ID: "prd-d180", DisplayName: "D180 Card Reader"},
	{ID: "prd-sbox", DisplayName: "SoundBox 2"},
}

var franchises = []franchiseSeed{
	{
		franchise: storage.Franchise{ID: "frn-north", DisplayName: "North Region Franchise"},
		merchants: []storage.Merchant{
			{ID: "mrc-arcade", DisplayName: "Arcade Grocers", ContactEmail: "ops@arcadegrocers.test", Active: true},
			{ID: "mrc-bluefin", DisplayName: "Bluefin Cafe", ContactEmail: "owner@bluefin.test", Active: true},
			{ID: "mrc-closed", DisplayName: "Closed Kiosk", ContactEmail: "closed@kiosk.test", Active: false},
		},
		devices: map[string]int{"prd-a920": 6, "prd-d180": 4},
	},
	{
		franchise: storage.Franchise{ID: "frn-south", DisplayName: "South Region Franchise"},
		merchants: []storage.Merchant{
			{ID: "mrc-citrus", DisplayName: "Citrus Pharmacy", ContactEmail: "front@citrus.test", Active: true},
		},
		devices: map[string]int{"prd-a920": 3, "prd-sbox": 5},
	},
}

// Apply inserts the demo fleet into the store. It is a no-op when the store
// already has franchises.
func Apply(ctx context.Context, store storage.Store, out io.Writer) error {
	if store == nil {
		return fmt.Errorf("store is required")
	}
	if out == nil {
		out = io.Discard
	}
	existing, err := store.ListFranchises(ctx)
	if err != nil {
		return fmt.Errorf("list franchises: %w", err)
	}
	if len(existing) > 0 {
		fmt.Fprintf(out, "store already seeded (%d franchises), skipping\n", len(existing))
		return nil
	}

	now := time.Now().UTC()
	for _, product := range products {
		product.CreatedAt = now
		if err := store.CreateProduct(ctx, product); err != nil {
			return fmt.Errorf("create product %s: %w", product.ID, err)
		}
	}
	total := 0
	for _, seed := range franchises {
		seed.franchise.CreatedAt = now
		if err := store.CreateFranchise(ctx, seed.franchise); err != nil {
			return fmt.Errorf("create franchise %s: %w", seed.franchise.ID, err)
		}
		for _, merchant := range seed.merchants {
			merchant.FranchiseID = seed.franchise.ID
			merchant.CreatedAt = now
			if err := store.CreateMerchant(ctx, merchant); err != nil {
				return fmt.Errorf("create merchant %s: %w", merchant.ID, err)
			}
		}
		count, err := seedDevices(ctx, store, seed, now)
		if err != nil {
			return err
		}
		total += count
		fmt.Fprintf(out, "seeded franchise %s with %d merchants and %d devices\n", seed.franchise.ID, len(seed.merchants), count)
	}
	fmt.Fprintf(out, "seeded %d products and %d devices total\n", len(products), total)
	return nil
}

func seedDevices(ctx context.Context, store storage.Store, seed franchiseSeed, now time.Time) (int, error) {
	count := 0
	for _, product := range products {
		for i := 0; i < seed.devices[product.ID]; i++ {
			count++
			device := storage.Device{
				ID:                 fmt.Sprintf("dev-%s-%s-%03d", seed.franchise.ID, product.ID, i+1),
				SerialID:           fmt.Sprintf("SN-%s-%s-%03d", seed.franchise.ID, product.ID, i+1),
				FranchiseID:        seed.franchise.ID,
				ProductID:          product.ID,
				MerchantIdentifier: fmt.Sprintf("MID%05d", count),
				TerminalIdentifier: fmt.Sprintf("TID%05d", count),
				VPAIdentifier:      fmt.Sprintf("vpa%05d@fleet", count),
				Status:             storage.DeviceStatusInStock,
				UpdatedAt:          now,
			}
			if err := store.CreateDevice(ctx, device); err != nil {
				return 0, fmt.Errorf("create device %s: %w", device.ID, err)
			}
		}
	}
	return count, nil
}
