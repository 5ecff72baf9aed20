package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aq2208/garden-checkout/cmd/checkout-api/app"
	"github.com/aq2208/garden-checkout/configs"
	"github.com/aq2208/garden-checkout/internal/logging"
)

func main() {
	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}

	cfg, err := configs.Load("configs", env)
	if err != nil {
		log.Fatal(err)
	}
	l := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		l.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	l.Info("checkout-api starting", "env", env, "http_addr", cfg.App.HTTPAddr,
		"store", cfg.Store.Driver, "gateway", cfg.Gateway.Driver)
	if err := a.Run(ctx); err != nil {
		l.Error("checkout-api stopped", "err", err)
		os.Exit(1)
	}
	l.Info("checkout-api stopped")
}
