// Package rest implements the inventory gateway over the inventory service's
// REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/singleflight"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	"github.com/posworks/fleetconsole/internal/allocation/gateway"
	"github.com/posworks/fleetconsole/internal/api/rest/inventoryv1"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
	"github.com/posworks/fleetconsole/internal/platform/timeouts"
)

// TokenSource supplies the bearer token attached to each request.
type TokenSource func() (string, error)

// StaticToken returns a TokenSource for a fixed token.
func StaticToken(token string) TokenSource {
	return func() (string, error) { return token, nil }
}

// Client calls the inventory service. Identical list requests issued
// concurrently are collapsed into one upstream call.
type Client struct {
	baseURL string
	token   TokenSource
	client  *http.Client

	group singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(token TokenSource) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the inventory service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("inventory base url is required")
	}
	c := &Client{
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListFranchises fetches all franchises.
func (c *Client) ListFranchises(ctx context.Context) ([]domain.FranchiseRef, error) {
	var list inventoryv1.FranchiseList
	if err := c.getShared(ctx, "/v1/franchises", &list); err != nil {
		return nil, err
	}
	franchises := make([]domain.FranchiseRef, 0, len(list.Franchises))
	for _, f := range list.Franchises {
		franchises = append(franchises, domain.FranchiseRef{ID: f.ID, DisplayName: f.DisplayName})
	}
	return franchises, nil
}

// ListProducts fetches the product stock list for a franchise.
func (c *Client) ListProducts(ctx context.Context, franchiseID string) ([]domain.ProductStock, error) {
	var list inventoryv1.ProductList
	path := "/v1/franchises/" + url.PathEscape(franchiseID) + "/products"
	if err := c.getShared(ctx, path, &list); err != nil {
		return nil, err
	}
	products := make([]domain.ProductStock, 0, len(list.Products))
	for _, p := range list.Products {
		products = append(products, domain.ProductStock{
			ProductID:         p.ProductID,
			DisplayName:       p.DisplayName,
			AvailableQuantity: p.AvailableQuantity,
		})
	}
	return products, nil
}

// ListMerchants fetches the merchants registered under a franchise.
func (c *Client) ListMerchants(ctx context.Context, franchiseID string) ([]domain.MerchantRef, error) {
	var list inventoryv1.MerchantList
	path := "/v1/franchises/" + url.PathEscape(franchiseID) + "/merchants"
	if err := c.getShared(ctx, path, &list); err != nil {
		return nil, err
	}
	merchants := make([]domain.MerchantRef, 0, len(list.Merchants))
	for _, m := range list.Merchants {
		merchants = append(merchants, domain.MerchantRef{
			ID:           m.ID,
			DisplayName:  m.DisplayName,
			ContactEmail: m.ContactEmail,
		})
	}
	return merchants, nil
}

// ListDispatchableDevices fetches in-stock devices for a product under a
// franchise.
func (c *Client) ListDispatchableDevices(ctx context.Context, productID, franchiseID string) ([]domain.DeviceRecord, error) {
	var list inventoryv1.DeviceList
	query := url.Values{}
	query.Set("franchise_id", franchiseID)
	query.Set("product_id", productID)
	path := "/v1/devices?" + query.Encode()
	if err := c.getShared(ctx, path, &list); err != nil {
		return nil, err
	}
	devices := make([]domain.DeviceRecord, 0, len(list.Devices))
	for _, d := range list.Devices {
		devices = append(devices, domain.DeviceRecord{
			ID:                 d.ID,
			SerialID:           d.SerialID,
			MerchantIdentifier: d.MerchantIdentifier,
			TerminalIdentifier: d.TerminalIdentifier,
			VPAIdentifier:      d.VPAIdentifier,
		})
	}
	return devices, nil
}

// SubmitAllocation posts the allocation. Submissions are never coalesced.
func (c *Client) SubmitAllocation(ctx context.Context, req gateway.AllocationRequest) (gateway.AllocationResult, error) {
	payload := inventoryv1.AllocationRequest{
		FranchiseID: req.FranchiseID,
		MerchantID:  req.MerchantID,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		DeviceIDs:   req.DeviceIDs,
	}
	var created inventoryv1.Allocation
	if err := c.do(ctx, http.MethodPost, "/v1/allocations", payload, &created); err != nil {
		return gateway.AllocationResult{}, err
	}
	return gateway.AllocationResult{DistributionID: created.DistributionID}, nil
}

// getShared issues a GET, collapsing concurrent identical requests.
func (c *Client) getShared(ctx context.Context, path string, out any) error {
	result, err, _ := c.group.Do(path, func() (any, error) {
		// The flight is shared by coalesced callers, so it must survive the
		// first caller's cancellation. Context values (trace headers) carry
		// over; the shared timeout still bounds the request.
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.GatewayRequest)
		defer cancel()
		raw := json.RawMessage{}
		if err := c.do(reqCtx, http.MethodGet, path, nil, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(result.(json.RawMessage), out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
	}

	var req *http.Request
	var err error
	if reqBody != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeUnauthenticated, "obtain operator token", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFailure, method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return inventoryv1.DecodeError(resp.Status, resp.Body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFailure, "decode "+method+" "+path+" response", err)
	}
	return nil
}
