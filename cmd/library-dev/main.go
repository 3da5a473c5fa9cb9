package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"library-backend/internal/app"
	"library-backend/internal/config"
	"library-backend/internal/storage/ch"
)

func main() {
	ctx := context.Background()

	log.Println("Starting PostgreSQL testcontainer...")

	// Start PostgreSQL container
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("library"),
		postgres.WithUsername("library"),
		postgres.WithPassword("devpassword"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		log.Println("Stopping PostgreSQL container...")
		if err := postgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("Failed to get PostgreSQL connection string: %v", err)
	}
	log.Printf("PostgreSQL started at %s", dsn)

	log.Println("Starting ClickHouse testcontainer...")

	// Start ClickHouse container for the circulation journal
	clickhouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:latest",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("devpassword"),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		log.Fatalf("Failed to start ClickHouse container: %v", err)
	}
	defer func() {
		log.Println("Stopping ClickHouse container...")
		if err := clickhouseContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	host, err := clickhouseContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		log.Fatalf("Failed to get container port: %v", err)
	}
	log.Printf("ClickHouse started at %s:%s", host, port.Port())

	// Set environment variables for the application
	os.Setenv("USE_MOCK_DB", "false")
	os.Setenv("DATABASE_URL", dsn)
	os.Setenv("AUTO_MIGRATE", "true")
	os.Setenv("JOURNAL_ENABLED", "true")
	os.Setenv("CLICKHOUSE_HOST", host)
	os.Setenv("CLICKHOUSE_PORT", port.Port())
	os.Setenv("CLICKHOUSE_DATABASE", "default")
	os.Setenv("CLICKHOUSE_USER", "default")
	os.Setenv("CLICKHOUSE_PASSWORD", "devpassword")
	os.Setenv("CLICKHOUSE_USE_TLS", "false")
	os.Setenv("APP_ENV", "development")

	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8080")
	}
	if os.Getenv("JWT_SECRET") == "" {
		log.Println("⚠️  JWT_SECRET not set, using an insecure development secret.")
		os.Setenv("JWT_SECRET", "dev-secret")
	}
	if os.Getenv("SMTP_HOST") == "" {
		log.Println("⚠️  SMTP_HOST not set. Notifications will be written to the log.")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := ch.Migrate(ctx, app.ClickHouseOptions(cfg), "up"); err != nil {
		log.Fatalf("Failed to migrate ClickHouse: %v", err)
	}

	log.Println("Starting application with PostgreSQL and ClickHouse backends...")
	fmt.Println()

	application, err := app.New()
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Run blocks until SIGINT or SIGTERM; deferred cleanup removes the containers
	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}
