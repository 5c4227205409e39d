// Package auth resolves inbound credentials (API bearer tokens, Telegram
// chat IDs) to an authenticated actor.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"stockcast/internal/types"
)

// UserLookup defines the data access methods the auth service needs.
// *db.UserRepo satisfies it.
type UserLookup interface {
	LookupByTokenHash(ctx context.Context, tokenHash string) (*types.User, error)
	LookupByChatID(ctx context.Context, chatID int64) (*types.User, error)
}

// HashToken produces a hex-encoded SHA-256 digest of a raw API token.
// Only digests are stored, so a leaked table cannot be replayed against
// the API.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Service authenticates requests from both channels.
type Service struct {
	users  UserLookup
	logger *slog.Logger
}

// NewService creates an auth Service. If logger is nil, slog.Default() is used.
func NewService(users UserLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, logger: logger}
}

// VerifyToken resolves a raw bearer token to the actor it belongs to.
// An empty token is auth_token_missing; unknown, expired, and revoked
// tokens each keep their own code so API clients can distinguish
// "rotate your token" from "you were cut off".
func (s *Service) VerifyToken(ctx context.Context, rawToken string) (types.Actor, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing API token", nil)
	}

	user, err := s.users.LookupByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return types.Actor{}, err
	}

	return types.Actor{
		UserID:   user.ID,
		Username: user.Username,
		IsPro:    user.IsPro,
		Channel:  types.ChannelAPI,
	}, nil
}

// ResolveChat resolves a Telegram chat to the actor linked to it.
// Returns not_found_profile when the chat has never been linked; the bot
// turns that into a deny rather than an error reply.
func (s *Service) ResolveChat(ctx context.Context, chatID int64) (types.Actor, error) {
	user, err := s.users.LookupByChatID(ctx, chatID)
	if err != nil {
		return types.Actor{}, err
	}

	return types.Actor{
		UserID:   user.ID,
		Username: user.Username,
		IsPro:    user.IsPro,
		Channel:  types.ChannelBot,
	}, nil
}
