package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/freshkeeper/internal/server"
	"github.com/dmitrijs2005/freshkeeper/internal/server/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(2)
	}

	ctx := context.Background()
	startCtx, cancel := server.StartupContext(ctx)
	app, err := server.NewApp(startCtx, cfg)
	cancel()
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
