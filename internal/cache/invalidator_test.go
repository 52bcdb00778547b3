package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisInvalidator_DeletesProductKeys(t *testing.T) {
	srv, client := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, srv.Set("product:p1", `{"id":"p1"}`))
	require.NoError(t, srv.Set("product:p2", `{"id":"p2"}`))
	require.NoError(t, srv.Set("products:all", `[...]`))

	inv := NewRedis(client, "")
	require.NoError(t, inv.InvalidateProducts(ctx, "p1"))

	assert.False(t, srv.Exists("product:p1"), "invalidated product key must be gone")
	assert.False(t, srv.Exists("products:all"), "list key must be dropped with any product")
	assert.True(t, srv.Exists("product:p2"), "unrelated product keys stay")
}

func TestRedisInvalidator_PublishesChangedIDs(t *testing.T) {
	srv, client := newTestRedis(t)
	ctx := context.Background()

	sub := srv.NewSubscriber()
	defer sub.Close()
	sub.Subscribe(DefaultChannel)

	// The subscriber channel is unbuffered, so the message must be received
	// concurrently or the pipelined PUBLISH blocks the server.
	msgCh := make(chan miniredis.PubsubMessage, 1)
	go func() { msgCh <- <-sub.Messages() }()

	inv := NewRedis(client, "")
	require.NoError(t, inv.InvalidateProducts(ctx, "p1", "p2"))

	msg := <-msgCh
	assert.Equal(t, DefaultChannel, msg.Channel)
	assert.Equal(t, "p1,p2", msg.Message)
}

func TestRedisInvalidator_NoIDsIsNoop(t *testing.T) {
	_, client := newTestRedis(t)
	inv := NewRedis(client, "")
	require.NoError(t, inv.InvalidateProducts(context.Background()))
}

func TestNoop(t *testing.T) {
	require.NoError(t, Noop{}.InvalidateProducts(context.Background(), "p1"))
}
