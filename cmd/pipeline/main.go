package main

import (
	"context"
	"fmt"
	"os"

	cliAdapter "commerce-pipeline/internal/adapters/cli"
	"commerce-pipeline/internal/app"
	"commerce-pipeline/internal/config"
	"commerce-pipeline/internal/core"
	"commerce-pipeline/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogMode)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	rt, err := app.Wire(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}

	err = cliAdapter.NewApp(rt.Service, cfg.CompanyCode, os.Stdout).RunContext(ctx, os.Args)
	rt.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", core.ErrorKind(err), err)
		os.Exit(1)
	}
}
