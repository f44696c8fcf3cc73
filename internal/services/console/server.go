package console

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/posworks/fleetconsole/internal/allocation/gateway"
	"github.com/posworks/fleetconsole/internal/allocation/gateway/rest"
	"github.com/posworks/fleetconsole/internal/platform/config"
	"github.com/posworks/fleetconsole/internal/platform/timeouts"
	"github.com/posworks/fleetconsole/internal/services/shared/operatortoken"
)

type serverEnv struct {
	InventoryURL string `env:"FLEETCONSOLE_INVENTORY_URL"`
}

func loadServerEnv() (serverEnv, error) {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.InventoryURL) == "" {
		return serverEnv{}, fmt.Errorf("FLEETCONSOLE_INVENTORY_URL is required")
	}
	return cfg, nil
}

// Server hosts the console workflow HTTP API.
type Server struct {
	httpAddr   string
	httpServer *http.Server
}

// New creates a configured console server for the provided address.
func New(addr string) (*Server, error) {
	env, err := loadServerEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := operatortoken.LoadConfigFromEnv(nil)
	if err != nil {
		return nil, fmt.Errorf("load operator token config: %w", err)
	}

	newGateway := func(token func() (string, error)) (gateway.Inventory, error) {
		return rest.New(env.InventoryURL, rest.WithTokenSource(token))
	}
	handler := NewHandler(tokens, newGateway)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		httpAddr:   addr,
		httpServer: httpServer,
	}, nil
}

// Run creates and serves a console server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return server.ListenAndServe(ctx)
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("console server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serveErr := make(chan error, 1)
	log.Printf("console listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
