// Package accounts stores the brokerage accounts the trading loop acts on.
package accounts

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/database"
	"github.com/aristath/swingbot/internal/domain"
)

const accountColumns = `id, name, type, api_key, api_secret, base_url, allow_shorting, max_position_size, is_active`

// DefaultMaxPositionSize is the fraction of portfolio value per position when none is given
const DefaultMaxPositionSize = 0.1

// Repository handles account database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new account repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// Create inserts an account and returns its id
func (r *Repository) Create(account domain.Account) (int64, error) {
	if strings.TrimSpace(account.Name) == "" {
		return 0, fmt.Errorf("account name is required")
	}
	if account.APIKey == "" || account.APISecret == "" {
		return 0, fmt.Errorf("account %s: api key and secret are required", account.Name)
	}
	if account.Type == "" {
		account.Type = domain.AccountPaper
	}
	if account.Type != domain.AccountPaper && account.Type != domain.AccountLive {
		return 0, fmt.Errorf("account %s: invalid type %q", account.Name, account.Type)
	}
	if account.MaxPositionSize == 0 {
		account.MaxPositionSize = DefaultMaxPositionSize
	}
	if account.MaxPositionSize < 0 || account.MaxPositionSize > 1 {
		return 0, fmt.Errorf("account %s: max position size must be in (0, 1], got %v", account.Name, account.MaxPositionSize)
	}

	res, err := r.db.Exec(`
		INSERT INTO accounts
		(name, type, api_key, api_secret, base_url, allow_shorting, max_position_size, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		strings.TrimSpace(account.Name),
		string(account.Type),
		account.APIKey,
		account.APISecret,
		account.BaseURL,
		account.AllowShorting,
		account.MaxPositionSize,
		account.IsActive,
		database.Millis(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create account %s: %w", account.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	r.log.Info().
		Int64("account_id", id).
		Str("name", account.Name).
		Str("type", string(account.Type)).
		Bool("allow_shorting", account.AllowShorting).
		Msg("Account created")

	return id, nil
}

// GetByID retrieves an account. Returns nil when it does not exist.
func (r *Repository) GetByID(id int64) (*domain.Account, error) {
	row := r.db.QueryRow("SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return &account, nil
}

// ListActive returns active accounts in id order
func (r *Repository) ListActive() ([]domain.Account, error) {
	return r.list("SELECT " + accountColumns + " FROM accounts WHERE is_active = 1 ORDER BY id")
}

// List returns every account in id order
func (r *Repository) List() ([]domain.Account, error) {
	return r.list("SELECT " + accountColumns + " FROM accounts ORDER BY id")
}

func (r *Repository) list(query string) ([]domain.Account, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (domain.Account, error) {
	var (
		account     domain.Account
		accountType string
	)
	err := row.Scan(
		&account.ID,
		&account.Name,
		&accountType,
		&account.APIKey,
		&account.APISecret,
		&account.BaseURL,
		&account.AllowShorting,
		&account.MaxPositionSize,
		&account.IsActive,
	)
	account.Type = domain.AccountType(accountType)
	return account, err
}
