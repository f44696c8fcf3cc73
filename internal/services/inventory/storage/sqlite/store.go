// Package sqlite provides a SQLite-backed inventory storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/posworks/fleetconsole/internal/platform/storage/sqlitemigrate"
	"github.com/posworks/fleetconsole/internal/services/inventory/storage"
	"github.com/posworks/fleetconsole/internal/services/inventory/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists inventory state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite inventory store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateFranchise inserts one franchise record.
func (s *Store) CreateFranchise(ctx context.Context, franchise storage.Franchise) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(franchise.ID)
	name := strings.TrimSpace(franchise.DisplayName)
	if id == "" {
		return fmt.Errorf("franchise id is required")
	}
	if name == "" {
		return fmt.Errorf("franchise display name is required")
	}
	createdAt := franchise.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO franchises (id, display_name, created_at) VALUES (?, ?, ?)`,
		id, name, toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create franchise: %w", err)
	}
	return nil
}

// ListFranchises returns all franchises ordered by display name.
func (s *Store) ListFranchises(ctx context.Context) ([]storage.Franchise, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, display_name, created_at FROM franchises ORDER BY display_name ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list franchises: %w", err)
	}
	defer rows.Close()

	var franchises []storage.Franchise
	for rows.Next() {
		var franchise storage.Franchise
		var createdAt int64
		if err := rows.Scan(&franchise.ID, &franchise.DisplayName, &createdAt); err != nil {
			return nil, fmt.Errorf("list franchises: %w", err)
		}
		franchise.CreatedAt = fromMillis(createdAt)
		franchises = append(franchises, franchise)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list franchises: %w", err)
	}
	return franchises, nil
}

// CreateProduct inserts one product record.
func (s *Store) CreateProduct(ctx context.Context, product storage.Product) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(product.ID)
	name := strings.TrimSpace(product.DisplayName)
	if id == "" {
		return fmt.Errorf("product id is required")
	}
	if name == "" {
		return fmt.Errorf("product display name is required")
	}
	createdAt := product.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO products (id, display_name, created_at) VALUES (?, ?, ?)`,
		id, name, toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// ListProductStock returns every product with its live in-stock device count
// for the franchise. Products with zero stock are included so the dashboard
// can render them disabled.
func (s *Store) ListProductStock(ctx context.Context, franchiseID string) ([]storage.ProductStock, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	franchiseID = strings.TrimSpace(franchiseID)
	if franchiseID == "" {
		return nil, fmt.Errorf("franchise id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT p.id, p.display_name,
		        COUNT(d.id) FILTER (WHERE d.status = ?)
		   FROM products p
		   LEFT JOIN devices d ON d.product_id = p.id AND d.franchise_id = ?
		  GROUP BY p.id, p.display_name
		  ORDER BY p.display_name ASC, p.id ASC`,
		storage.DeviceStatusInStock,
		franchiseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list product stock: %w", err)
	}
	defer rows.Close()

	var stock []storage.ProductStock
	for rows.Next() {
		var item storage.ProductStock
		if err := rows.Scan(&item.ProductID, &item.DisplayName, &item.AvailableQuantity); err != nil {
			return nil, fmt.Errorf("list product stock: %w", err)
		}
		stock = append(stock, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list product stock: %w", err)
	}
	return stock, nil
}

// CreateMerchant inserts one merchant record.
func (s *Store) CreateMerchant(ctx context.Context, merchant storage.Merchant) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(merchant.ID)
	franchiseID := strings.TrimSpace(merchant.FranchiseID)
	name := strings.TrimSpace(merchant.DisplayName)
	if id == "" {
		return fmt.Errorf("merchant id is required")
	}
	if franchiseID == "" {
		return fmt.Errorf("franchise id is required")
	}
	if name == "" {
		return fmt.Errorf("merchant display name is required")
	}
	createdAt := merchant.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO merchants (id, franchise_id, display_name, contact_email, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, franchiseID, name, strings.TrimSpace(merchant.ContactEmail),
		boolToInt(merchant.Active), toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create merchant: %w", err)
	}
	return nil
}

// ListMerchants returns active merchants for a franchise.
func (s *Store) ListMerchants(ctx context.Context, franchiseID string) ([]storage.Merchant, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	franchiseID = strings.TrimSpace(franchiseID)
	if franchiseID == "" {
		return nil, fmt.Errorf("franchise id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, franchise_id, display_name, contact_email, active, created_at
		   FROM merchants
		  WHERE franchise_id = ? AND active = 1
		  ORDER BY display_name ASC, id ASC`,
		franchiseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer rows.Close()

	var merchants []storage.Merchant
	for rows.Next() {
		merchant, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("list merchants: %w", err)
		}
		merchants = append(merchants, merchant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	return merchants, nil
}

// CreateDevice inserts one device row, in stock unless a status is given.
func (s *Store) CreateDevice(ctx context.Context, device storage.Device) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(device.ID)
	serialID := strings.TrimSpace(device.SerialID)
	franchiseID := strings.TrimSpace(device.FranchiseID)
	productID := strings.TrimSpace(device.ProductID)
	if id == "" {
		return fmt.Errorf("device id is required")
	}
	if serialID == "" {
		return fmt.Errorf("serial id is required")
	}
	if franchiseID == "" {
		return fmt.Errorf("franchise id is required")
	}
	if productID == "" {
		return fmt.Errorf("product id is required")
	}
	status := strings.TrimSpace(device.Status)
	if status == "" {
		status = storage.DeviceStatusInStock
	}
	updatedAt := device.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO devices (
		   id, serial_id, franchise_id, product_id,
		   merchant_identifier, terminal_identifier, vpa_identifier,
		   status, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, serialID, franchiseID, productID,
		strings.TrimSpace(device.MerchantIdentifier),
		strings.TrimSpace(device.TerminalIdentifier),
		strings.TrimSpace(device.VPAIdentifier),
		status, toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// ListInStockDevices returns in-stock devices for a product under a franchise,
// oldest rows first so stock rotates. A limit of zero or less returns every
// matching row.
func (s *Store) ListInStockDevices(ctx context.Context, franchiseID, productID string, limit int) ([]storage.Device, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	franchiseID = strings.TrimSpace(franchiseID)
	productID = strings.TrimSpace(productID)
	if franchiseID == "" {
		return nil, fmt.Errorf("franchise id is required")
	}
	if productID == "" {
		return nil, fmt.Errorf("product id is required")
	}
	if limit <= 0 {
		// SQLite treats a negative LIMIT as unbounded.
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, serial_id, franchise_id, product_id,
		        merchant_identifier, terminal_identifier, vpa_identifier,
		        status, updated_at
		   FROM devices
		  WHERE franchise_id = ? AND product_id = ? AND status = ?
		  ORDER BY updated_at ASC, id ASC
		  LIMIT ?`,
		franchiseID, productID, storage.DeviceStatusInStock, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list in-stock devices: %w", err)
	}
	defer rows.Close()

	var devices []storage.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("list in-stock devices: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list in-stock devices: %w", err)
	}
	return devices, nil
}

// CreateAllocation claims every requested device and records the distribution
// in one transaction. If any device is no longer in stock the transaction
// rolls back and a DeviceUnavailableError names the first unavailable device.
func (s *Store) CreateAllocation(ctx context.Context, allocation storage.Allocation) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	distributionID := strings.TrimSpace(allocation.DistributionID)
	franchiseID := strings.TrimSpace(allocation.FranchiseID)
	merchantID := strings.TrimSpace(allocation.MerchantID)
	productID := strings.TrimSpace(allocation.ProductID)
	if distributionID == "" {
		return fmt.Errorf("distribution id is required")
	}
	if franchiseID == "" {
		return fmt.Errorf("franchise id is required")
	}
	if merchantID == "" {
		return fmt.Errorf("merchant id is required")
	}
	if productID == "" {
		return fmt.Errorf("product id is required")
	}
	if allocation.Quantity <= 0 || len(allocation.DeviceIDs) != allocation.Quantity {
		return fmt.Errorf("device count must equal quantity")
	}
	createdAt := allocation.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin allocation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	row := tx.QueryRowContext(
		ctx,
		`SELECT active FROM merchants WHERE id = ? AND franchise_id = ?`,
		merchantID, franchiseID,
	)
	if err := row.Scan(&active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check merchant: %w", err)
	}
	if active == 0 {
		return storage.ErrMerchantInactive
	}

	now := toMillis(time.Now())
	for _, deviceID := range allocation.DeviceIDs {
		result, err := tx.ExecContext(
			ctx,
			`UPDATE devices
			    SET status = ?, merchant_identifier = ?, updated_at = ?
			  WHERE id = ? AND franchise_id = ? AND product_id = ? AND status = ?`,
			storage.DeviceStatusAllocated, merchantID, now,
			deviceID, franchiseID, productID, storage.DeviceStatusInStock,
		)
		if err != nil {
			return fmt.Errorf("claim device %s: %w", deviceID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim device %s: %w", deviceID, err)
		}
		if affected == 0 {
			return &storage.DeviceUnavailableError{DeviceID: deviceID}
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO allocations (distribution_id, franchise_id, merchant_id, product_id, quantity, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		distributionID, franchiseID, merchantID, productID,
		allocation.Quantity, strings.TrimSpace(allocation.CreatedBy), toMillis(createdAt),
	); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("record allocation: %w", err)
	}
	for _, deviceID := range allocation.DeviceIDs {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO allocation_devices (distribution_id, device_id) VALUES (?, ?)`,
			distributionID, deviceID,
		); err != nil {
			return fmt.Errorf("record allocation device %s: %w", deviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit allocation: %w", err)
	}
	return nil
}

// ListAllocations returns distributions for a franchise, newest first. An
// empty franchise id returns every distribution.
func (s *Store) ListAllocations(ctx context.Context, franchiseID string) ([]storage.Allocation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	franchiseID = strings.TrimSpace(franchiseID)

	var (
		rows *sql.Rows
		err  error
	)
	if franchiseID == "" {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT distribution_id, franchise_id, merchant_id, product_id, quantity, created_by, created_at
			   FROM allocations
			  ORDER BY created_at DESC, distribution_id ASC`,
		)
	} else {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT distribution_id, franchise_id, merchant_id, product_id, quantity, created_by, created_at
			   FROM allocations
			  WHERE franchise_id = ?
			  ORDER BY created_at DESC, distribution_id ASC`,
			franchiseID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var allocations []storage.Allocation
	for rows.Next() {
		var allocation storage.Allocation
		var createdAt int64
		if err := rows.Scan(
			&allocation.DistributionID,
			&allocation.FranchiseID,
			&allocation.MerchantID,
			&allocation.ProductID,
			&allocation.Quantity,
			&allocation.CreatedBy,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("list allocations: %w", err)
		}
		allocation.CreatedAt = fromMillis(createdAt)
		allocations = append(allocations, allocation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}

	for i := range allocations {
		deviceIDs, err := s.allocationDeviceIDs(ctx, allocations[i].DistributionID)
		if err != nil {
			return nil, err
		}
		allocations[i].DeviceIDs = deviceIDs
	}
	return allocations, nil
}

func (s *Store) allocationDeviceIDs(ctx context.Context, distributionID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT device_id FROM allocation_devices WHERE distribution_id = ? ORDER BY device_id ASC`,
		distributionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list allocation devices: %w", err)
	}
	defer rows.Close()

	var deviceIDs []string
	for rows.Next() {
		var deviceID string
		if err := rows.Scan(&deviceID); err != nil {
			return nil, fmt.Errorf("list allocation devices: %w", err)
		}
		deviceIDs = append(deviceIDs, deviceID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list allocation devices: %w", err)
	}
	return deviceIDs, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMerchant(row rowScanner) (storage.Merchant, error) {
	var merchant storage.Merchant
	var active int
	var createdAt int64
	if err := row.Scan(
		&merchant.ID,
		&merchant.FranchiseID,
		&merchant.DisplayName,
		&merchant.ContactEmail,
		&active,
		&createdAt,
	); err != nil {
		return storage.Merchant{}, err
	}
	merchant.Active = active != 0
	merchant.CreatedAt = fromMillis(createdAt)
	return merchant, nil
}

func scanDevice(row rowScanner) (storage.Device, error) {
	var device storage.Device
	var updatedAt int64
	if err := row.Scan(
		&device.ID,
		&device.SerialID,
		&device.FranchiseID,
		&device.ProductID,
		&device.MerchantIdentifier,
		&device.TerminalIdentifier,
		&device.VPAIdentifier,
		&device.Status,
		&updatedAt,
	); err != nil {
		return storage.Device{}, err
	}
	device.UpdatedAt = fromMillis(updatedAt)
	return device, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ storage.Store = (*Store)(nil)
