// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/modules/accounts"
	"github.com/aristath/swingbot/internal/modules/experiences"
	"github.com/aristath/swingbot/internal/modules/trading"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.DB == nil {
		return fmt.Errorf("container cannot be nil")
	}

	conn := container.DB.Conn()
	container.AccountRepo = accounts.NewRepository(conn, log)
	container.TradeRepo = trading.NewTradeRepository(conn, log)
	container.ExperienceRepo = experiences.NewRepository(conn, log)

	log.Info().Msg("Repositories initialized")
	return nil
}
