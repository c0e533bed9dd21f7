package service

import (
	"context"
	"testing"

	"duotime/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_RegisterPushToken(t *testing.T) {
	e := newEnv(t)
	svc := NewUserService(e.users, nil)
	me, _ := e.couple(t)
	ctx := context.Background()
	token := "ExponentPushToken[abc123]"

	require.NoError(t, svc.RegisterPushToken(ctx, me, token))

	u, err := e.users.FindByID(ctx, me)
	require.NoError(t, err)
	require.NotNil(t, u.PushToken)
	assert.Equal(t, token, *u.PushToken)

	raw, ok := e.raw.Raw(store.KindUser, store.Record{"id": me})
	require.True(t, ok)
	assert.NotEqual(t, token, raw["push_token"])

	require.NoError(t, svc.RegisterPushToken(ctx, me, ""))
	u, err = e.users.FindByID(ctx, me)
	require.NoError(t, err)
	assert.Nil(t, u.PushToken)
}

func TestUserService_RejectsForeignToken(t *testing.T) {
	e := newEnv(t)
	svc := NewUserService(e.users, nil)
	me, _ := e.couple(t)

	assert.ErrorIs(t, svc.RegisterPushToken(context.Background(), me, "fcm:xyz"), ErrInvalidInput)
}
