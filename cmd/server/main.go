package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"microtask-backend/config"
	mktserver "microtask-backend/middleware/marketplace"
	"microtask-backend/services"
	"microtask-backend/storage/auth"
	storemkt "microtask-backend/storage/marketplace"
)

func main() {
	configPath := flag.String("config", os.Getenv("MARKET_CONFIG"), "path to YAML config file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx := context.Background()
	var store storemkt.Store
	var tokens interface {
		auth.TokenValidator
		auth.TokenIssuer
	}
	switch cfg.StoreDriver {
	case "postgres":
		pgStore, err := storemkt.NewPGStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		store = pgStore
		pgTokens, err := auth.NewPGTokenStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to init token store: %v", err)
		}
		tokens = pgTokens
	default:
		store = storemkt.NewMemoryStore()
		tokens = auth.NewTokenStore()
	}
	defer store.Close()

	notifier := services.NewNotifier(store, log, cfg.AdminEmail)
	srv := mktserver.NewServer(store, tokens, notifier, log)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	log.WithFields(logrus.Fields{"port": cfg.Port, "driver": cfg.StoreDriver}).Info("marketplace server starting")
	if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
