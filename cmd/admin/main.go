package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/gatekeeper/internal/admin"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	logger := logging.NewJSONLogger(os.Stderr, cfg.LogLevel)

	prov, closer, err := server.NewProvisioningService(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	err = admin.NewApp(prov, os.Stdin, os.Stdout).Run(ctx, os.Args[1:])
	_ = closer.Close()

	if err != nil {
		if !errors.Is(err, admin.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
