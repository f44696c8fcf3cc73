// Package inventory hosts the authoritative device inventory REST API. It
// owns franchises, products, merchants, device rows, and the all-or-nothing
// allocation transaction.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	"github.com/posworks/fleetconsole/internal/api/rest/inventoryv1"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
	"github.com/posworks/fleetconsole/internal/platform/id"
	"github.com/posworks/fleetconsole/internal/services/inventory/storage"
	"github.com/posworks/fleetconsole/internal/services/shared/operatortoken"
)

type actorContextKey struct{}

func actorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Handler serves the inventory REST API.
type Handler struct {
	store  storage.Store
	tokens operatortoken.Config
	newID  func() (string, error)
	now    func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithIDGenerator overrides distribution id generation.
func WithIDGenerator(newID func() (string, error)) HandlerOption {
	return func(h *Handler) {
		if newID != nil {
			h.newID = newID
		}
	}
}

// WithClock overrides the handler clock.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler builds the inventory API handler.
func NewHandler(store storage.Store, tokens operatortoken.Config, opts ...HandlerOption) http.Handler {
	h := &Handler{
		store:  store,
		tokens: tokens,
		newID:  id.NewID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/franchises", h.handleListFranchises)
	mux.HandleFunc("GET /v1/franchises/{id}/products", h.handleListProducts)
	mux.HandleFunc("GET /v1/franchises/{id}/merchants", h.handleListMerchants)
	mux.HandleFunc("GET /v1/devices", h.handleListDevices)
	mux.HandleFunc("POST /v1/allocations", h.handleCreateAllocation)
	mux.HandleFunc("GET /v1/allocations", h.handleListAllocations)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h.authenticate(mux)
}

// authenticate verifies the bearer token and stores the actor in the request
// context. The health endpoint stays open for probes.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := operatortoken.Verify(token, h.tokens)
		if err != nil {
			inventoryv1.WriteError(w, err)
			return
		}
		ctx = context.WithValue(ctx, actorContextKey{}, claims.Actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizeFranchise checks that the actor may read the given franchise.
// Franchise actors are confined to their own; admins see everything.
func authorizeFranchise(ctx context.Context, franchiseID string) (domain.Actor, error) {
	actor, ok := actorFromContext(ctx)
	if !ok {
		return domain.Actor{}, apperrors.New(apperrors.CodeUnauthenticated, "operator identity is missing")
	}
	if actor.FranchiseLocked() && actor.FranchiseID != franchiseID {
		return domain.Actor{}, apperrors.New(apperrors.CodePermissionDenied, "operator is confined to their own franchise")
	}
	return actor, nil
}

func (h *Handler) handleListFranchises(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeUnauthenticated, "operator identity is missing"))
		return
	}

	franchises, err := h.store.ListFranchises(r.Context())
	if err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	list := inventoryv1.FranchiseList{Franchises: []inventoryv1.Franchise{}}
	for _, franchise := range franchises {
		if actor.FranchiseLocked() && franchise.ID != actor.FranchiseID {
			continue
		}
		list.Franchises = append(list.Franchises, inventoryv1.Franchise{
			ID:          franchise.ID,
			DisplayName: franchise.DisplayName,
		})
	}
	inventoryv1.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	franchiseID := r.PathValue("id")
	if _, err := authorizeFranchise(r.Context(), franchiseID); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	stock, err := h.store.ListProductStock(r.Context(), franchiseID)
	if err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	list := inventoryv1.ProductList{Products: []inventoryv1.Product{}}
	for _, item := range stock {
		list.Products = append(list.Products, inventoryv1.Product{
			ProductID:         item.ProductID,
			DisplayName:       item.DisplayName,
			AvailableQuantity: item.AvailableQuantity,
		})
	}
	inventoryv1.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleListMerchants(w http.ResponseWriter, r *http.Request) {
	franchiseID := r.PathValue("id")
	if _, err := authorizeFranchise(r.Context(), franchiseID); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	merchants, err := h.store.ListMerchants(r.Context(), franchiseID)
	if err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	list := inventoryv1.MerchantList{Merchants: []inventoryv1.Merchant{}}
	for _, merchant := range merchants {
		list.Merchants = append(list.Merchants, inventoryv1.Merchant{
			ID:           merchant.ID,
			DisplayName:  merchant.DisplayName,
			ContactEmail: merchant.ContactEmail,
			Active:       merchant.Active,
		})
	}
	inventoryv1.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	franchiseID := strings.TrimSpace(r.URL.Query().Get("franchise_id"))
	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	if franchiseID == "" {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeFranchiseRequired, "franchise_id is required"))
		return
	}
	if productID == "" {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeProductRequired, "product_id is required"))
		return
	}
	if _, err := authorizeFranchise(r.Context(), franchiseID); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	// No default cap: the pool must cover the full advertised stock, or a
	// valid quantity could never be matched by a complete selection.
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			inventoryv1.WriteError(w, apperrors.New(apperrors.CodeAllocationInvalid, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	devices, err := h.store.ListInStockDevices(r.Context(), franchiseID, productID, limit)
	if err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	list := inventoryv1.DeviceList{Devices: []inventoryv1.Device{}}
	for _, device := range devices {
		list.Devices = append(list.Devices, inventoryv1.Device{
			ID:                 device.ID,
			SerialID:           device.SerialID,
			MerchantIdentifier: device.MerchantIdentifier,
			TerminalIdentifier: device.TerminalIdentifier,
			VPAIdentifier:      device.VPAIdentifier,
			Status:             device.Status,
		})
	}
	inventoryv1.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req inventoryv1.AllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeAllocationInvalid, "request body is not valid JSON"))
		return
	}

	actor, err := authorizeFranchise(r.Context(), req.FranchiseID)
	if err != nil {
		inventoryv1.WriteError(w, err)
		return
	}
	if err := validateAllocationRequest(req); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	distributionID, err := h.newID()
	if err != nil {
		inventoryv1.WriteError(w, apperrors.Wrap(apperrors.CodeUnknown, "generate distribution id", err))
		return
	}

	allocation := storage.Allocation{
		DistributionID: distributionID,
		FranchiseID:    req.FranchiseID,
		MerchantID:     req.MerchantID,
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		DeviceIDs:      req.DeviceIDs,
		CreatedBy:      actor.Subject,
		CreatedAt:      h.now(),
	}
	if err := h.store.CreateAllocation(r.Context(), allocation); err != nil {
		inventoryv1.WriteError(w, mapAllocationError(err))
		return
	}

	inventoryv1.WriteJSON(w, http.StatusCreated, inventoryv1.Allocation{
		DistributionID: allocation.DistributionID,
		FranchiseID:    allocation.FranchiseID,
		MerchantID:     allocation.MerchantID,
		ProductID:      allocation.ProductID,
		Quantity:       allocation.Quantity,
		DeviceIDs:      allocation.DeviceIDs,
		CreatedBy:      allocation.CreatedBy,
		CreatedAt:      allocation.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeUnauthenticated, "operator identity is missing"))
		return
	}

	franchiseID := strings.TrimSpace(r.URL.Query().Get("franchise_id"))
	if actor.FranchiseLocked() {
		franchiseID = actor.FranchiseID
	}

	allocations, err := h.store.ListAllocations(r.Context(), franchiseID)
	if err != nil {
		inventoryv1.WriteError(w, err)
		return
	}

	list := inventoryv1.AllocationList{Allocations: []inventoryv1.Allocation{}}
	for _, allocation := range allocations {
		list.Allocations = append(list.Allocations, inventoryv1.Allocation{
			DistributionID: allocation.DistributionID,
			FranchiseID:    allocation.FranchiseID,
			MerchantID:     allocation.MerchantID,
			ProductID:      allocation.ProductID,
			Quantity:       allocation.Quantity,
			DeviceIDs:      allocation.DeviceIDs,
			CreatedBy:      allocation.CreatedBy,
			CreatedAt:      allocation.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	inventoryv1.WriteJSON(w, http.StatusOK, list)
}

func validateAllocationRequest(req inventoryv1.AllocationRequest) error {
	if strings.TrimSpace(req.FranchiseID) == "" {
		return apperrors.New(apperrors.CodeFranchiseRequired, "franchise_id is required")
	}
	if strings.TrimSpace(req.MerchantID) == "" {
		return apperrors.New(apperrors.CodeMerchantRequired, "merchant_id is required")
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return apperrors.New(apperrors.CodeProductRequired, "product_id is required")
	}
	if req.Quantity <= 0 {
		return apperrors.New(apperrors.CodeQuantityNotPositive, "quantity must be a positive integer")
	}
	if len(req.DeviceIDs) != req.Quantity {
		return apperrors.WithMetadata(
			apperrors.CodeAllocationInvalid,
			"device count must equal quantity",
			map[string]string{
				"Devices":  strconv.Itoa(len(req.DeviceIDs)),
				"Quantity": strconv.Itoa(req.Quantity),
			},
		)
	}
	seen := make(map[string]struct{}, len(req.DeviceIDs))
	for _, deviceID := range req.DeviceIDs {
		if strings.TrimSpace(deviceID) == "" {
			return apperrors.New(apperrors.CodeAllocationInvalid, "device ids must not be empty")
		}
		if _, dup := seen[deviceID]; dup {
			return apperrors.WithMetadata(
				apperrors.CodeAllocationInvalid,
				"device ids must be unique",
				map[string]string{"DeviceID": deviceID},
			)
		}
		seen[deviceID] = struct{}{}
	}
	return nil
}

// mapAllocationError translates storage failures into API error codes.
func mapAllocationError(err error) error {
	var unavailable *storage.DeviceUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return apperrors.WithMetadata(
			apperrors.CodeStockInsufficient,
			"device is no longer in stock",
			map[string]string{"DeviceID": unavailable.DeviceID},
		)
	case errors.Is(err, storage.ErrMerchantInactive):
		return apperrors.New(apperrors.CodeMerchantInactive, "merchant is inactive")
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.New(apperrors.CodeMerchantUnknown, "merchant is not registered under the franchise")
	case errors.Is(err, storage.ErrAlreadyExists):
		return apperrors.New(apperrors.CodeAllocationInvalid, "distribution id already recorded")
	default:
		return err
	}
}
