// Package console parses console service flags and launches the service.
package console

import (
	"context"
	"flag"

	entrypoint "github.com/posworks/fleetconsole/internal/platform/cmd"
	server "github.com/posworks/fleetconsole/internal/services/console"
)

// Config holds console command configuration.
type Config struct {
	Port int `env:"FLEETCONSOLE_CONSOLE_PORT" envDefault:"8080"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The console HTTP server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the console workflow service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceConsole, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
