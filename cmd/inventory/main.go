package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	inventorycmd "github.com/posworks/fleetconsole/internal/cmd/inventory"
)

func main() {
	cfg, err := inventorycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[INVENTORY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := inventorycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
