// Package inventory parses inventory service flags and launches the service.
package inventory

import (
	"context"
	"flag"

	entrypoint "github.com/posworks/fleetconsole/internal/platform/cmd"
	server "github.com/posworks/fleetconsole/internal/services/inventory"
)

// Config holds inventory command configuration.
type Config struct {
	Port int `env:"FLEETCONSOLE_INVENTORY_PORT" envDefault:"8081"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The inventory HTTP server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the inventory API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceInventory, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
