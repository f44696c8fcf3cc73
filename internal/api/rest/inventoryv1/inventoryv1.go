// Package inventoryv1 defines the JSON wire types of the inventory REST API.
// The inventory service handlers and the console's gateway client share these
// so the contract lives in one place.
package inventoryv1

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
)

// Franchise is a selectable franchise.
type Franchise struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Product is a product with live stock for one franchise.
type Product struct {
	ProductID         string `json:"product_id"`
	DisplayName       string `json:"display_name"`
	AvailableQuantity int    `json:"available_quantity"`
}

// Merchant is a merchant registered under a franchise.
type Merchant struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	ContactEmail string `json:"contact_email,omitempty"`
	Active       bool   `json:"active"`
}

// Device is one physical device row.
type Device struct {
	ID                 string `json:"id"`
	SerialID           string `json:"serial_id"`
	MerchantIdentifier string `json:"merchant_identifier,omitempty"`
	TerminalIdentifier string `json:"terminal_identifier,omitempty"`
	VPAIdentifier      string `json:"vpa_identifier,omitempty"`
	Status             string `json:"status"`
}

// AllocationRequest is the POST /v1/allocations payload.
type AllocationRequest struct {
	FranchiseID string   `json:"franchise_id"`
	MerchantID  string   `json:"merchant_id"`
	ProductID   string   `json:"product_id"`
	Quantity    int      `json:"quantity"`
	DeviceIDs   []string `json:"device_ids"`
}

// Allocation is one recorded distribution.
type Allocation struct {
	DistributionID string   `json:"distribution_id"`
	FranchiseID    string   `json:"franchise_id"`
	MerchantID     string   `json:"merchant_id"`
	ProductID      string   `json:"product_id"`
	Quantity       int      `json:"quantity"`
	DeviceIDs      []string `json:"device_ids"`
	CreatedBy      string   `json:"created_by"`
	CreatedAt      string   `json:"created_at"`
}

// FranchiseList is the GET /v1/franchises response.
type FranchiseList struct {
	Franchises []Franchise `json:"franchises"`
}

// ProductList is the GET /v1/franchises/{id}/products response.
type ProductList struct {
	Products []Product `json:"products"`
}

// MerchantList is the GET /v1/franchises/{id}/merchants response.
type MerchantList struct {
	Merchants []Merchant `json:"merchants"`
}

// DeviceList is the GET /v1/devices response.
type DeviceList struct {
	Devices []Device `json:"devices"`
}

// AllocationList is the GET /v1/allocations response.
type AllocationList struct {
	Allocations []Allocation `json:"allocations"`
}

// ErrorBody is the error envelope carried on non-2xx responses.
type ErrorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an error envelope, using the domain code's HTTP
// status mapping. Non-domain errors become UNKNOWN with a generic message.
func WriteError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	body := ErrorBody{
		Code:     string(code),
		Message:  err.Error(),
		Metadata: apperrors.GetMetadata(err),
	}
	if code == apperrors.CodeUnknown {
		body.Message = "internal error"
	}
	WriteJSON(w, code.HTTPStatus(), body)
}

// DecodeError rebuilds a domain error from an error envelope body. A body
// that is not a valid envelope yields an UNKNOWN error with the raw status.
func DecodeError(status string, body io.Reader) *apperrors.Error {
	var envelope ErrorBody
	if err := json.NewDecoder(body).Decode(&envelope); err != nil || envelope.Code == "" {
		return apperrors.New(apperrors.CodeUnknown, "inventory returned "+status)
	}
	return apperrors.WithMetadata(apperrors.Code(envelope.Code), envelope.Message, envelope.Metadata)
}
