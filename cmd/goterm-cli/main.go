package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/goterm/internal/auth"
	"github.com/dmitrijs2005/goterm/internal/bridge"
	"github.com/dmitrijs2005/goterm/internal/cli"
	"github.com/dmitrijs2005/goterm/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	token, err := auth.ReadTokenFile(cfg.TokenPath())
	if err != nil {
		log.Fatalf("%v (is the goterm daemon running?)", err)
	}

	c, err := bridge.NewClient(cfg.BridgeAddr, token)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		log.Fatalf("bridge unreachable at %s: %v", cfg.BridgeAddr, err)
	}

	cli.NewApp(c).Run(ctx)

}
