// Package di provides dependency injection for database connections.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/config"
	"github.com/aristath/swingbot/internal/database"
)

// OpenDatabase opens the shared swingbot database without checking the schema
func OpenDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    cfg.DatabaseURL,
		Profile: database.ProfileLedger, // Trades and the registry must survive power loss
		Name:    "swingbot",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// InitializeDatabases opens the database and refuses to continue when the schema has not
// been applied. The schema is only created by the migrate command.
func InitializeDatabases(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if err := db.VerifySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", db.Path()).Msg("Database initialized and schema verified")

	return &Container{DB: db}, nil
}
