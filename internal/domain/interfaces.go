package domain

import (
	"context"
	"time"
)

// MarketData supplies sanitized OHLCV rows
type MarketData interface {
	// Recent returns daily bars for a lookback period such as "1mo"
	Recent(ctx context.Context, ticker, period string) ([]Bar, error)
	// History returns daily bars in [start, end)
	History(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error)
}

// Broker is the brokerage collaborator for one account
type Broker interface {
	Account(ctx context.Context) (*AccountInfo, error)
	// Position returns nil when there is no holding in symbol
	Position(ctx context.Context, symbol string) (*Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	Clock(ctx context.Context) (*Clock, error)
}

// BrokerFactory builds a broker client for an account
type BrokerFactory func(account Account) Broker
