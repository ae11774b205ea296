package main

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"microtask-backend/mcp"
	storemkt "microtask-backend/storage/marketplace"
)

type config struct {
	StoreDriver string
	PGDSN       string
}

func loadConfig() config {
	storeDriver := os.Getenv("MCP_STORE_DRIVER")
	if storeDriver == "" {
		storeDriver = "memory"
	}
	return config{
		StoreDriver: storeDriver,
		PGDSN:       os.Getenv("MCP_PG_DSN"),
	}
}

func main() {
	cfg := loadConfig()

	ctx := context.Background()
	var store storemkt.Store
	var err error
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PGDSN == "" {
			log.Fatal("MCP_PG_DSN required when MCP_STORE_DRIVER=postgres")
		}
		store, err = storemkt.NewPGStore(ctx, cfg.PGDSN)
	default:
		store = storemkt.NewMemoryStore()
	}
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	mcpServer := mcp.NewMCPServer(store)

	log.Printf("Microtask MCP server starting (driver=%s)", cfg.StoreDriver)

	if err := server.ServeStdio(mcpServer.GetMCPServer()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
