package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/goterm/internal/app"
	"github.com/dmitrijs2005/goterm/internal/config"
	"github.com/dmitrijs2005/goterm/internal/logging"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
