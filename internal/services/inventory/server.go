package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/posworks/fleetconsole/internal/platform/config"
	"github.com/posworks/fleetconsole/internal/platform/timeouts"
	invsqlite "github.com/posworks/fleetconsole/internal/services/inventory/storage/sqlite"
	"github.com/posworks/fleetconsole/internal/services/shared/operatortoken"
)

type serverEnv struct {
	DBPath string `env:"FLEETCONSOLE_INVENTORY_DB_PATH"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "inventory.db")
	}
	return cfg
}

// Server hosts the inventory HTTP API and storage lifecycle.
type Server struct {
	httpAddr   string
	httpServer *http.Server
	store      *invsqlite.Store
}

// New creates a configured inventory server for the provided address.
func New(addr string) (*Server, error) {
	env := loadServerEnv()
	store, err := openInventoryStore(env.DBPath)
	if err != nil {
		return nil, err
	}

	tokens, err := operatortoken.LoadConfigFromEnv(nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load operator token config: %w", err)
	}

	handler := NewHandler(store, tokens)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		httpAddr:   addr,
		httpServer: httpServer,
		store:      store,
	}, nil
}

// Run creates and serves an inventory server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	defer server.Close()
	return server.ListenAndServe(ctx)
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("inventory server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serveErr := make(chan error, 1)
	log.Printf("inventory listening on %s", s.httpAddr)
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

// Close releases inventory server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close inventory store: %v", err)
		}
	}
}

func openInventoryStore(path string) (*invsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := invsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory sqlite store: %w", err)
	}
	return store, nil
}
