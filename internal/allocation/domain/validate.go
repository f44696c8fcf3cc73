package domain

import (
	"strconv"

	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
)

// FieldErrors maps selection fields to their current validation failures.
type FieldErrors map[Field]*apperrors.Error

// Empty reports whether no field is in error.
func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// Clone returns a shallow copy of the map.
func (fe FieldErrors) Clone() FieldErrors {
	out := make(FieldErrors, len(fe))
	for field, err := range fe {
		out[field] = err
	}
	return out
}

// StockFor looks up the advisory available quantity for a product.
func StockFor(products []ProductStock, productID string) (int, bool) {
	for _, p := range products {
		if p.ProductID == productID {
			return p.AvailableQuantity, true
		}
	}
	return 0, false
}

// Validate evaluates every selection rule over the state and returns all
// failures at once. Rules are independent and never short-circuit so a UI can
// show every problem together.
func Validate(actor Actor, st SelectionState, products []ProductStock) FieldErrors {
	errs := make(FieldErrors)

	if !actor.FranchiseLocked() && st.FranchiseID == "" {
		errs[FieldFranchise] = apperrors.New(apperrors.CodeFranchiseRequired, "franchise is required")
	}

	if st.ProductID == "" {
		errs[FieldProduct] = apperrors.New(apperrors.CodeProductRequired, "product is required")
	}

	if st.RequestedQuantity <= 0 {
		errs[FieldQuantity] = apperrors.New(apperrors.CodeQuantityRequired, "quantity is required")
	} else if available, ok := StockFor(products, st.ProductID); ok && st.RequestedQuantity > available {
		errs[FieldQuantity] = apperrors.WithMetadata(
			apperrors.CodeQuantityExceedsStock,
			"requested quantity exceeds available stock",
			map[string]string{"Available": strconv.Itoa(available)},
		)
	}

	if st.MerchantID == "" {
		errs[FieldMerchant] = apperrors.New(apperrors.CodeMerchantRequired, "merchant is required")
	}

	if st.PoolMatchesKey() && st.SelectedCount() != st.RequestedQuantity {
		errs[FieldDevices] = apperrors.WithMetadata(
			apperrors.CodeDeviceSelectionIncomplete,
			"device selection does not match requested quantity",
			map[string]string{
				"Required": strconv.Itoa(st.RequestedQuantity),
				"Selected": strconv.Itoa(st.SelectedCount()),
			},
		)
	} else if len(st.DevicePool) > 0 && !st.PoolMatchesKey() {
		errs[FieldDevices] = apperrors.New(apperrors.CodeDeviceSelectionStale, "device pool no longer matches product and quantity")
	}

	return errs
}

// CanSubmit reports whether the state may be submitted: every rule passes, a
// matching pool is present, and no submission is already in flight.
func CanSubmit(actor Actor, st SelectionState, products []ProductStock) bool {
	if st.SubmissionInFlight {
		return false
	}
	if !st.PoolMatchesKey() || len(st.DevicePool) == 0 {
		return false
	}
	return Validate(actor, st, products).Empty()
}
