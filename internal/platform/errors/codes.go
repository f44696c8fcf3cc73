// Package errors provides structured error handling for the allocation platform.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Selection validation errors
	CodeFranchiseRequired         Code = "FRANCHISE_REQUIRED"
	CodeProductRequired           Code = "PRODUCT_REQUIRED"
	CodeQuantityRequired          Code = "QUANTITY_REQUIRED"
	CodeQuantityNotPositive       Code = "QUANTITY_NOT_POSITIVE"
	CodeQuantityExceedsStock      Code = "QUANTITY_EXCEEDS_STOCK"
	CodeMerchantRequired          Code = "MERCHANT_REQUIRED"
	CodeDeviceSelectionIncomplete Code = "DEVICE_SELECTION_INCOMPLETE"
	CodeDeviceSelectionStale      Code = "DEVICE_SELECTION_STALE"

	// Workflow errors
	CodeRoleLocked           Code = "ROLE_LOCKED"
	CodeProductUnknown       Code = "PRODUCT_UNKNOWN"
	CodeMerchantUnknown      Code = "MERCHANT_UNKNOWN"
	CodeDeviceNotInPool      Code = "DEVICE_NOT_IN_POOL"
	CodeDeviceLimitReached   Code = "DEVICE_LIMIT_REACHED"
	CodePoolFetchNotReady    Code = "POOL_FETCH_NOT_READY"
	CodeSubmissionBlocked    Code = "SUBMISSION_BLOCKED"
	CodeSubmissionInProgress Code = "SUBMISSION_IN_PROGRESS"

	// Gateway/server errors
	CodeTransportFailure  Code = "TRANSPORT_FAILURE"
	CodeStockInsufficient Code = "STOCK_INSUFFICIENT"
	CodeMerchantInactive  Code = "MERCHANT_INACTIVE"
	CodeAllocationInvalid Code = "ALLOCATION_INVALID"
	CodeNotFound          Code = "NOT_FOUND"

	// Auth errors
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
)

// HTTPStatus maps domain codes to HTTP status codes for API responses.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeFranchiseRequired,
		CodeProductRequired,
		CodeQuantityRequired,
		CodeQuantityNotPositive,
		CodeQuantityExceedsStock,
		CodeMerchantRequired,
		CodeDeviceSelectionIncomplete,
		CodeProductUnknown,
		CodeMerchantUnknown,
		CodeDeviceNotInPool,
		CodeAllocationInvalid:
		return http.StatusBadRequest

	// Conflict - state doesn't allow the operation right now
	case CodeDeviceSelectionStale,
		CodeRoleLocked,
		CodeDeviceLimitReached,
		CodePoolFetchNotReady,
		CodeSubmissionBlocked,
		CodeSubmissionInProgress,
		CodeStockInsufficient,
		CodeMerchantInactive:
		return http.StatusConflict

	case CodeNotFound:
		return http.StatusNotFound

	case CodeUnauthenticated:
		return http.StatusUnauthorized

	case CodePermissionDenied:
		return http.StatusForbidden

	case CodeTransportFailure:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
