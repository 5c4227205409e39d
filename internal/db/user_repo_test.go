package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stockcast/internal/types"
)

func userRow(id, username string, isPro bool) *mockRow {
	now := time.Now().UTC()
	return &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = id
			*dest[1].(*string) = username
			*dest[2].(*string) = username + "@example.com"
			*dest[3].(*bool) = isPro
			*dest[4].(*time.Time) = now
			*dest[5].(*time.Time) = now
			return nil
		},
	}
}

func TestUserRepo_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(userRow("user_1", "alice", true))

	user, err := repo.GetByID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, types.TierPro, user.Tier())
	db.AssertExpectations(t)
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "user_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func tokenRow(isPro bool, expiresAt, revokedAt *time.Time) *mockRow {
	now := time.Now().UTC()
	return &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_1"
			*dest[1].(*string) = "alice"
			*dest[2].(*string) = "alice@example.com"
			*dest[3].(*bool) = isPro
			*dest[4].(*time.Time) = now
			*dest[5].(*time.Time) = now
			*dest[6].(**time.Time) = expiresAt
			*dest[7].(**time.Time) = revokedAt
			return nil
		},
	}
}

func TestUserRepo_LookupByTokenHash_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	future := time.Now().UTC().Add(24 * time.Hour)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(tokenRow(false, &future, nil))

	user, err := repo.LookupByTokenHash(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "user_1", user.ID)
	assert.Equal(t, types.TierFree, user.Tier())
}

func TestUserRepo_LookupByTokenHash_Unknown(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.LookupByTokenHash(context.Background(), "nope")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestUserRepo_LookupByTokenHash_Expired(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	past := time.Now().UTC().Add(-time.Hour)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(tokenRow(false, &past, nil))

	_, err := repo.LookupByTokenHash(context.Background(), "abc123")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenExpired, appErr.Code)
}

func TestUserRepo_LookupByTokenHash_Revoked(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	revoked := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(24 * time.Hour)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(tokenRow(false, &future, &revoked))

	_, err := repo.LookupByTokenHash(context.Background(), "abc123")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenRevoked, appErr.Code)
}

func TestUserRepo_LookupByChatID_ProfileMissing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.LookupByChatID(context.Background(), 123456789)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundProfile, appErr.Code)
}

func TestUserRepo_LookupByChatID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(userRow("user_2", "bob", false))

	user, err := repo.LookupByChatID(context.Background(), 123456789)
	require.NoError(t, err)
	assert.Equal(t, "user_2", user.ID)
}

func TestUserRepo_RegisterChat_ProvisionsAndLinks(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"),
		[]any{"tg_777", "tg_777@telegram-temp.example.com"}).
		Return(userRow("user_9", "tg_777", false))
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		[]any{int64(777), "user_9"}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	user, err := repo.RegisterChat(context.Background(), 777)
	require.NoError(t, err)
	assert.Equal(t, "tg_777", user.Username)
	db.AssertExpectations(t)
}

func TestUserRepo_RegisterChat_LinkFailure(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(userRow("user_9", "tg_777", false))
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	_, err := repo.RegisterChat(context.Background(), 777)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
