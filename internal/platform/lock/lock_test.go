package lock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	key := SyncKey(uuid.New())

	release, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, SyncKey(uuid.New()), time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestKeys(t *testing.T) {
	conn := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	rec := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	assert.Equal(t, "sync:"+conn.String(), SyncKey(conn))
	assert.Equal(t, "approve:"+conn.String()+":"+rec.String(), RecordKey(conn, rec))
	assert.NotEqual(t, SyncKey(conn), RecordKey(conn, rec))
}
