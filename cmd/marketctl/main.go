package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"microtask-backend/config"
	coremkt "microtask-backend/core/marketplace"
	"microtask-backend/storage/auth"
	storemkt "microtask-backend/storage/marketplace"
)

// marketctl is the operator CLI: bootstrap an admin account, inspect
// platform stats, or list the worker leaderboard. It talks straight to
// the store, so it needs the same configuration as the server.
func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("MARKET_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		log.Fatal("marketctl requires the postgres store; set MARKET_STORE_DRIVER=postgres and MARKET_POSTGRES_DSN")
	}

	ctx := context.Background()
	store, err := storemkt.NewPGStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	switch os.Args[1] {
	case "create-admin":
		createAdmin(ctx, cfg, store, os.Args[2:])
	case "stats":
		stats(ctx, store)
	case "top-workers":
		topWorkers(ctx, store, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: marketctl <command> [flags]

commands:
  create-admin  -email <email> -name <name>   create an admin account and print a bearer token
  stats                                        print platform counters
  top-workers   [-limit N]                     print the worker leaderboard`)
}

func createAdmin(ctx context.Context, cfg config.Config, store storemkt.Store, args []string) {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	email := fs.String("email", "", "admin email")
	name := fs.String("name", "Administrator", "display name")
	fs.Parse(args)
	if *email == "" {
		log.Fatal("create-admin: -email is required")
	}

	acct, err := store.CreateAccount(ctx, *email, *name, "", coremkt.RoleAdmin)
	if err != nil {
		log.Fatalf("create-admin: %v", err)
	}

	tokens, err := auth.NewPGTokenStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("create-admin: token store: %v", err)
	}
	tok, err := tokens.Issue(acct.ID, acct.Email, "marketctl")
	if err != nil {
		log.Fatalf("create-admin: issue token: %v", err)
	}

	fmt.Printf("admin account %s created\n", acct.ID)
	fmt.Printf("bearer token: %s\n", tok.Token)
}

func stats(ctx context.Context, store storemkt.Store) {
	st, err := store.PlatformStats(ctx)
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	fmt.Printf("users:           %d\n", st.TotalUsers)
	fmt.Printf("tasks:           %d\n", st.TotalTasks)
	fmt.Printf("coins:           %d\n", st.TotalCoins)
	fmt.Printf("completed tasks: %d\n", st.CompletedTasks)
}

func topWorkers(ctx context.Context, store storemkt.Store, args []string) {
	fs := flag.NewFlagSet("top-workers", flag.ExitOnError)
	limit := fs.Int("limit", 6, "number of workers to list")
	fs.Parse(args)

	workers, err := store.TopWorkers(ctx, *limit)
	if err != nil {
		log.Fatalf("top-workers: %v", err)
	}
	for i, w := range workers {
		fmt.Printf("%2d. %-30s %6d coins\n", i+1, w.Email, w.Balance)
	}
}
