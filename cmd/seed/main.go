// Package main seeds a local inventory database with demo fleet data.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/posworks/fleetconsole/internal/platform/config"
	"github.com/posworks/fleetconsole/internal/services/inventory/storage/sqlite"
	"github.com/posworks/fleetconsole/internal/tools/demodata"
)

func main() {
	dbPath := flag.String("db", os.Getenv("FLEETCONSOLE_INVENTORY_DB_PATH"), "path to the inventory sqlite database")
	flag.Parse()

	path := *dbPath
	if path == "" {
		path = filepath.Join("data", "inventory.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			config.Exitf("create storage dir: %v", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		config.Exitf("open inventory store: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := demodata.Apply(ctx, store, os.Stdout); err != nil {
		config.Exitf("seed inventory store: %v", err)
	}
}
