package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/types"
)

// UserRepo provides account lookups for the authentication layer and the
// status endpoint.
type UserRepo struct {
	db DBTX
}

// NewUserRepo creates a UserRepo backed by the given connection.
func NewUserRepo(db DBTX) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, username, email, is_pro, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.IsPro, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load user", err)
	}
	return &u, nil
}

// GetByID loads a user by primary key.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*types.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByUsername loads a user by their unique username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*types.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// LookupByTokenHash resolves a bearer token digest to its owning user.
// Expired and revoked tokens are distinguished so the API can return a
// precise auth error code.
func (r *UserRepo) LookupByTokenHash(ctx context.Context, tokenHash string) (*types.User, error) {
	var u types.User
	var expiresAt, revokedAt *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT u.id, u.username, u.email, u.is_pro, u.created_at, u.updated_at,
		        t.expires_at, t.revoked_at
		 FROM api_tokens t
		 JOIN users u ON u.id = t.user_id
		 WHERE t.token_hash = $1`,
		tokenHash,
	).Scan(&u.ID, &u.Username, &u.Email, &u.IsPro, &u.CreatedAt, &u.UpdatedAt,
		&expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown API token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up token", err)
	}

	if revokedAt != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenRevoked, "API token has been revoked", nil)
	}
	if expiresAt != nil && expiresAt.Before(time.Now().UTC()) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "API token has expired", nil)
	}
	return &u, nil
}

// LookupByChatID resolves a Telegram chat to its linked user account.
// A chat with no profile row gets not_found_profile: the bot denies the
// request instead of auto-provisioning an account.
func (r *UserRepo) LookupByChatID(ctx context.Context, chatID int64) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT u.id, u.username, u.email, u.is_pro, u.created_at, u.updated_at
		 FROM telegram_profiles p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.chat_id = $1`,
		chatID)
	var u types.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.IsPro, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "no account linked to this chat", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up telegram profile", err)
	}
	return &u, nil
}

// RegisterChat provisions the tg_<chat_id> account for a Telegram chat
// and binds its profile row. Running it again for a known chat is an
// upsert, so repeating /start never duplicates accounts.
func (r *UserRepo) RegisterChat(ctx context.Context, chatID int64) (*types.User, error) {
	username := fmt.Sprintf("tg_%d", chatID)
	var u types.User
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (username, email)
		 VALUES ($1, $2)
		 ON CONFLICT (username) DO UPDATE SET updated_at = NOW()
		 RETURNING `+userColumns,
		username, username+"@telegram-temp.example.com",
	).Scan(&u.ID, &u.Username, &u.Email, &u.IsPro, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to register telegram user", err)
	}

	if err := r.LinkTelegramProfile(ctx, chatID, u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

// LinkTelegramProfile binds a chat to a user account, replacing any
// previous binding for either side.
func (r *UserRepo) LinkTelegramProfile(ctx context.Context, chatID int64, userID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO telegram_profiles (chat_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (chat_id) DO UPDATE SET user_id = EXCLUDED.user_id`,
		chatID, userID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to link telegram profile", err)
	}
	return nil
}
