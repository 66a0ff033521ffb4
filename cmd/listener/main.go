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
	configFile := flag.String("config", "listener.yaml", "path to listener config file")
	flag.Parse()

	cfg, err := config.LoadListenerConfig(*configFile)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	entry := logger.WithField("component", "listener")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := driver.NewListenerDriver(*cfg, entry)
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		entry.WithError(err).Fatal("listener exited")
	}
}
