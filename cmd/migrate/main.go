package main

import (
	"context"
	"flag"
	"log"
	"os"

	"storefront-service/config"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// Usage: migrate [up|down|status|redo|version|reset|up-to VERSION|down-to VERSION]
func main() {
	flag.Parse()

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	command := "up"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	db, err := store.NewStore(cfg.Database.URL, 1)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db.GetDB().DB, command, args...); err != nil {
		logger.Error("Migration failed", zap.String("command", command), zap.Error(err))
		db.Close()
		util.SyncLogger()
		os.Exit(1)
	}
	logger.Info("Migration finished", zap.String("command", command))
}
