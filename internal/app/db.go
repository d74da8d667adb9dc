package app

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/tempizhere/shortenurl/internal/repository"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS negotiations (
		id               VARCHAR(64) PRIMARY KEY,
		role             VARCHAR(32) NOT NULL,
		state            VARCHAR(32) NOT NULL,
		connection_id    VARCHAR(255) NOT NULL,
		thread_id        VARCHAR(255) NOT NULL,
		original_url     TEXT NOT NULL,
		shorten_strategy VARCHAR(32) NOT NULL,
		short_url_slug   VARCHAR(255),
		shortened_url    TEXT,
		expires_at       TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS negotiations_thread_idx ON negotiations (connection_id, thread_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS negotiations_slug_idx ON negotiations (short_url_slug)
		WHERE role = 'url-shortener' AND short_url_slug <> ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS negotiations_shortened_url_idx ON negotiations (shortened_url)
		WHERE role = 'url-shortener' AND shortened_url <> ''`,
	`CREATE TABLE IF NOT EXISTS negotiation_messages (
		id           BIGSERIAL PRIMARY KEY,
		record_id    VARCHAR(64) NOT NULL REFERENCES negotiations (id) ON DELETE CASCADE,
		message_type TEXT NOT NULL,
		role         VARCHAR(16) NOT NULL,
		payload      JSONB NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS negotiation_messages_record_idx ON negotiation_messages (record_id, message_type)`,
}

// NewDB открывает подключение к PostgreSQL и создаёт схему
func NewDB(ctx context.Context, dsn string) (repository.Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate создаёт таблицы переговоров и сообщений, если их нет
func Migrate(ctx context.Context, db repository.Database) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
