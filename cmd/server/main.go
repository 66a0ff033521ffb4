package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"wsmux/internal/config"
	"wsmux/internal/driver"
	"wsmux/internal/logging"
)

func main() {
	configFile := flag.String("config", "server.yaml", "path to server config file")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configFile)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	entry := logger.WithField("component", "server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := driver.NewServerDriver(*cfg, entry)
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		entry.WithError(err).Fatal("server exited")
	}
}
