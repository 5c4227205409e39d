package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stockcast/internal/types"
)

type mockUserLookup struct {
	mock.Mock
}

func (m *mockUserLookup) LookupByTokenHash(ctx context.Context, tokenHash string) (*types.User, error) {
	args := m.Called(ctx, tokenHash)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserLookup) LookupByChatID(ctx context.Context, chatID int64) (*types.User, error) {
	args := m.Called(ctx, chatID)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestHashToken_Deterministic(t *testing.T) {
	a := HashToken("sk_live_abc123")
	b := HashToken("sk_live_abc123")
	c := HashToken("sk_live_abc124")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestVerifyToken_Success(t *testing.T) {
	users := new(mockUserLookup)
	svc := NewService(users, nil)

	users.On("LookupByTokenHash", mock.Anything, HashToken("sk_live_abc123")).
		Return(&types.User{ID: "user_1", Username: "alice", IsPro: true}, nil)

	actor, err := svc.VerifyToken(context.Background(), "sk_live_abc123")
	require.NoError(t, err)
	assert.Equal(t, "user_1", actor.UserID)
	assert.Equal(t, types.ChannelAPI, actor.Channel)
	assert.Equal(t, types.TierPro, actor.Tier())
	users.AssertExpectations(t)
}

func TestVerifyToken_Missing(t *testing.T) {
	svc := NewService(new(mockUserLookup), nil)

	_, err := svc.VerifyToken(context.Background(), "   ")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenMissing, appErr.Code)
}

func TestVerifyToken_LookupErrorPassesThrough(t *testing.T) {
	users := new(mockUserLookup)
	svc := NewService(users, nil)

	users.On("LookupByTokenHash", mock.Anything, mock.AnythingOfType("string")).
		Return(nil, types.NewAppError(types.ErrCodeAuthTokenRevoked, "API token has been revoked", nil))

	_, err := svc.VerifyToken(context.Background(), "sk_live_revoked")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenRevoked, appErr.Code)
}

func TestResolveChat_Success(t *testing.T) {
	users := new(mockUserLookup)
	svc := NewService(users, nil)

	users.On("LookupByChatID", mock.Anything, int64(987654321)).
		Return(&types.User{ID: "user_2", Username: "bob"}, nil)

	actor, err := svc.ResolveChat(context.Background(), 987654321)
	require.NoError(t, err)
	assert.Equal(t, "user_2", actor.UserID)
	assert.Equal(t, types.ChannelBot, actor.Channel)
	assert.Equal(t, types.TierFree, actor.Tier())
}

func TestResolveChat_ProfileMissing(t *testing.T) {
	users := new(mockUserLookup)
	svc := NewService(users, nil)

	users.On("LookupByChatID", mock.Anything, int64(111)).
		Return(nil, types.NewAppError(types.ErrCodeNotFoundProfile, "no account linked to this chat", nil))

	_, err := svc.ResolveChat(context.Background(), 111)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundProfile, appErr.Code)
}
