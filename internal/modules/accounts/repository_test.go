package accounts

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/swingbot/internal/domain"
	testdb "github.com/aristath/swingbot/internal/testing"
)

func TestRepository_CreateAndList(t *testing.T) {
	repo := NewRepository(testdb.NewMemoryDB(t), zerolog.New(nil).Level(zerolog.Disabled))

	paperID, err := repo.Create(domain.Account{
		Name: "paper-1", APIKey: "k", APISecret: "s", AllowShorting: true, IsActive: true,
	})
	require.NoError(t, err)
	_, err = repo.Create(domain.Account{
		Name: "dormant", Type: domain.AccountLive, APIKey: "k", APISecret: "s", MaxPositionSize: 0.25,
	})
	require.NoError(t, err)

	account, err := repo.GetByID(paperID)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, domain.AccountPaper, account.Type)
	assert.Equal(t, DefaultMaxPositionSize, account.MaxPositionSize)
	assert.True(t, account.AllowShorting)

	active, err := repo.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "paper-1", active[0].Name)

	all, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	missing, err := repo.GetByID(99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_CreateValidation(t *testing.T) {
	repo := NewRepository(testdb.NewMemoryDB(t), zerolog.New(nil).Level(zerolog.Disabled))

	testCases := []struct {
		name    string
		account domain.Account
	}{
		{"missing name", domain.Account{APIKey: "k", APISecret: "s"}},
		{"missing credentials", domain.Account{Name: "a"}},
		{"bad type", domain.Account{Name: "a", APIKey: "k", APISecret: "s", Type: "margin"}},
		{"oversized position", domain.Account{Name: "a", APIKey: "k", APISecret: "s", MaxPositionSize: 1.5}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Create(tc.account)
			assert.Error(t, err)
		})
	}
}
