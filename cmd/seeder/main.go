// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/unclebandit/campaign-engine/internal/auth"
	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/db"
)

func main() {
	skipSeed := flag.Bool("schema-only", false, "apply the schema without demo data")
	flag.Parse()

	cfg := config.Load()
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Schema applied")
	if *skipSeed {
		return
	}

	seedFiles := []string{
		"seed/workspaces.sql",
		"seed/contacts.sql",
		"seed/campaigns.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}

		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	if cfg.JWTSecret != "" {
		token, err := auth.NewVerifier(cfg.JWTSecret, "campaign-engine").Issue("ws_demo", 24*time.Hour)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Printf("Token for ws_demo (24h): %s\n", token)
	}

	fmt.Println("Database seeding completed successfully!")
}
