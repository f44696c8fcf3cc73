// Package console hosts the allocation workflow for dashboard operators. Each
// operator gets one long-lived session driving the inventory service through
// the allocation workflow; the handlers are thin JSON glue over it.
package console

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	"github.com/posworks/fleetconsole/internal/allocation/gateway"
	"github.com/posworks/fleetconsole/internal/allocation/session"
	"github.com/posworks/fleetconsole/internal/api/rest/inventoryv1"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
	"github.com/posworks/fleetconsole/internal/services/shared/operatortoken"
)

// GatewayFactory builds the inventory gateway for one operator session. The
// token func returns that operator's current bearer token.
type GatewayFactory func(token func() (string, error)) (gateway.Inventory, error)

// tokenHolder carries the operator's latest bearer token so background
// fetches authenticate with a fresh credential.
type tokenHolder struct {
	mu    sync.Mutex
	token string
}

func (h *tokenHolder) set(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *tokenHolder) get() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token == "" {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "operator token is missing")
	}
	return h.token, nil
}

// operatorSession pairs a workflow session with its token holder.
type operatorSession struct {
	session *session.Session
	token   *tokenHolder
}

// Handler serves the console workflow API.
type Handler struct {
	tokens     operatortoken.Config
	newGateway GatewayFactory

	mu       sync.Mutex
	sessions map[string]*operatorSession
}

// NewHandler builds the console handler.
func NewHandler(tokens operatortoken.Config, newGateway GatewayFactory) http.Handler {
	h := &Handler{
		tokens:     tokens,
		newGateway: newGateway,
		sessions:   make(map[string]*operatorSession),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/session", h.handleSnapshot)
	mux.HandleFunc("POST /v1/session/franchise", h.handleSetFranchise)
	mux.HandleFunc("POST /v1/session/product", h.handleSetProduct)
	mux.HandleFunc("POST /v1/session/quantity", h.handleSetQuantity)
	mux.HandleFunc("POST /v1/session/merchant", h.handleSetMerchant)
	mux.HandleFunc("POST /v1/session/devices/fetch", h.handleFetchDevices)
	mux.HandleFunc("POST /v1/session/devices/toggle", h.handleToggleDevice)
	mux.HandleFunc("POST /v1/session/submit", h.handleSubmit)
	mux.HandleFunc("POST /v1/session/cancel", h.handleCancel)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h.authenticate(mux)
}

type sessionContextKey struct{}

func sessionFromContext(ctx context.Context) *operatorSession {
	sess, _ := ctx.Value(sessionContextKey{}).(*operatorSession)
	return sess
}

// authenticate verifies the bearer token, resolves the operator's session
// (creating and starting it on first touch), and refreshes the stored token.
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

		sess, err := h.sessionFor(ctx, claims.Actor(), token)
		if err != nil {
			inventoryv1.WriteError(w, err)
			return
		}
		ctx = context.WithValue(ctx, sessionContextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) sessionFor(ctx context.Context, actor domain.Actor, token string) (*operatorSession, error) {
	h.mu.Lock()
	existing, ok := h.sessions[actor.Subject]
	h.mu.Unlock()
	if ok {
		existing.token.set(token)
		return existing, nil
	}

	holder := &tokenHolder{token: token}
	inventory, err := h.newGateway(holder.get)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(actor, inventory)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if racing, ok := h.sessions[actor.Subject]; ok {
		h.mu.Unlock()
		racing.token.set(token)
		return racing, nil
	}
	created := &operatorSession{session: sess, token: holder}
	h.sessions[actor.Subject] = created
	h.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		h.mu.Lock()
		delete(h.sessions, actor.Subject)
		h.mu.Unlock()
		return nil, err
	}
	return created, nil
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeSnapshot(w, sess.session.Snapshot())
}

type franchiseRequest struct {
	FranchiseID string `json:"franchise_id"`
}

func (h *Handler) handleSetFranchise(w http.ResponseWriter, r *http.Request) {
	var req franchiseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeFranchiseRequired, "request body is not valid JSON"))
		return
	}
	sess := sessionFromContext(r.Context())
	if err := sess.session.SetFranchise(req.FranchiseID); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}
	writeSnapshot(w, sess.session.Snapshot())
}

type productRequest struct {
	ProductID string `json:"product_id"`
}

func (h *Handler) handleSetProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeProductRequired, "request body is not valid JSON"))
		return
	}
	sess := sessionFromContext(r.Context())
	if err := sess.session.SetProduct(req.ProductID); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}
	writeSnapshot(w, sess.session.Snapshot())
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeQuantityRequired, "request body is not valid JSON"))
		return
	}
	sess := sessionFromContext(r.Context())
	if err := sess.session.SetQuantity(req.Quantity); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}
	writeSnapshot(w, sess.session.Snapshot())
}

type merchantRequest struct {
	MerchantID string `json:"merchant_id"`
}

func (h *Handler) handleSetMerchant(w http.ResponseWriter, r *http.Request) {
	var req merchantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeMerchantRequired, "request body is not valid JSON"))
		return
	}
	sess := sessionFromContext(r.Context())
	if err := sess.session.SetMerchant(req.MerchantID); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}
	writeSnapshot(w, sess.session.Snapshot())
}

func (h *Handler) handleFetchDevices(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := sess.session.FetchDevicePool(); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}
	writeSnapshot(w, sess.session.Snapshot())
}

type toggleRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *Handler) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		inventoryv1.WriteError(w, apperrors.New(apperrors.CodeDeviceNotInPool, "request body is not valid JSON"))
		return
	}
	sess := sessionFromContext(r.Context())
	if err := sess.session.ToggleDevice(req.DeviceID); err != nil {
		inventoryv1.WriteError(w, err)
		return
	}
	writeSnapshot(w, sess.session.Snapshot())
}

type submitResponse struct {
	DistributionID string       `json:"distribution_id"`
	Snapshot       snapshotBody `json:"snapshot"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	result, err := sess.session.Submit(r.Context())
	if err != nil {
		inventoryv1.WriteError(w, err)
		return
	}
	inventoryv1.WriteJSON(w, http.StatusOK, submitResponse{
		DistributionID: result.DistributionID,
		Snapshot:       snapshotToBody(sess.session.Snapshot()),
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	sess.session.Cancel()
	writeSnapshot(w, sess.session.Snapshot())
}

// snapshotBody is the JSON rendering of a session snapshot.
type snapshotBody struct {
	Actor              actorBody               `json:"actor"`
	FranchiseID        string                  `json:"franchise_id"`
	ProductID          string                  `json:"product_id"`
	Quantity           int                     `json:"quantity"`
	MerchantID         string                  `json:"merchant_id"`
	Franchises         []inventoryv1.Franchise `json:"franchises"`
	Products           []inventoryv1.Product   `json:"products"`
	Merchants          []inventoryv1.Merchant  `json:"merchants"`
	DevicePool         []inventoryv1.Device    `json:"device_pool"`
	SelectedDeviceIDs  []string                `json:"selected_device_ids"`
	PoolCurrent        bool                    `json:"pool_current"`
	PoolPending        bool                    `json:"pool_pending"`
	SubmissionInFlight bool                    `json:"submission_in_flight"`
	CanSubmit          bool                    `json:"can_submit"`
	FieldErrors        map[string]fieldError   `json:"field_errors"`
	LoadError          string                  `json:"load_error,omitempty"`
}

type actorBody struct {
	Subject     string `json:"subject"`
	Role        string `json:"role"`
	FranchiseID string `json:"franchise_id,omitempty"`
}

type fieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeSnapshot(w http.ResponseWriter, snap session.Snapshot) {
	inventoryv1.WriteJSON(w, http.StatusOK, snapshotToBody(snap))
}

func snapshotToBody(snap session.Snapshot) snapshotBody {
	body := snapshotBody{
		Actor: actorBody{
			Subject:     snap.Actor.Subject,
			Role:        snap.Actor.Role.String(),
			FranchiseID: snap.Actor.FranchiseID,
		},
		FranchiseID:        snap.State.FranchiseID,
		ProductID:          snap.State.ProductID,
		Quantity:           snap.State.RequestedQuantity,
		MerchantID:         snap.State.MerchantID,
		Franchises:         []inventoryv1.Franchise{},
		Products:           []inventoryv1.Product{},
		Merchants:          []inventoryv1.Merchant{},
		DevicePool:         []inventoryv1.Device{},
		SelectedDeviceIDs:  snap.State.SelectedDeviceIDs(),
		PoolCurrent:        snap.State.PoolMatchesKey(),
		PoolPending:        snap.PoolPending,
		SubmissionInFlight: snap.State.SubmissionInFlight,
		CanSubmit:          snap.CanSubmit,
		FieldErrors:        map[string]fieldError{},
	}
	for _, franchise := range snap.Franchises {
		body.Franchises = append(body.Franchises, inventoryv1.Franchise{
			ID:          franchise.ID,
			DisplayName: franchise.DisplayName,
		})
	}
	for _, product := range snap.Products {
		body.Products = append(body.Products, inventoryv1.Product{
			ProductID:         product.ProductID,
			DisplayName:       product.DisplayName,
			AvailableQuantity: product.AvailableQuantity,
		})
	}
	for _, merchant := range snap.Merchants {
		body.Merchants = append(body.Merchants, inventoryv1.Merchant{
			ID:           merchant.ID,
			DisplayName:  merchant.DisplayName,
			ContactEmail: merchant.ContactEmail,
			Active:       true,
		})
	}
	for _, device := range snap.State.DevicePool {
		body.DevicePool = append(body.DevicePool, inventoryv1.Device{
			ID:                 device.ID,
			SerialID:           device.SerialID,
			MerchantIdentifier: device.MerchantIdentifier,
			TerminalIdentifier: device.TerminalIdentifier,
			VPAIdentifier:      device.VPAIdentifier,
		})
	}
	for field, err := range snap.FieldErrors {
		body.FieldErrors[string(field)] = fieldError{
			Code:    string(apperrors.GetCode(err)),
			Message: apperrors.UserMessage(err),
		}
	}
	if snap.LoadError != nil {
		body.LoadError = apperrors.UserMessage(snap.LoadError)
	}
	return body
}
