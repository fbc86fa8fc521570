package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"taskhub-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	usersTable := envOr("USERS_TABLE", "Users")
	tasksTable := envOr("TASKS_TABLE", "Tasks")

	tables, err := storage.NewTables(connStr, usersTable, tasksTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := tables.EnsureTables(ctx); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	log.WithFields(log.Fields{"users": usersTable, "tasks": tasksTable}).Info("storage init complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
