// Package migrations embeds the goose schema migrations
package migrations

import "embed"

// FS holds the SQL migrations for both databases
//
//go:embed postgres/*.sql clickhouse/*.sql
var FS embed.FS

const (
	PostgresDir   = "postgres"
	ClickHouseDir = "clickhouse"
)
