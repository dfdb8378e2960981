package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	pkgsync "github.com/kislikjeka/booksync/internal/platform/sync"
	"github.com/kislikjeka/booksync/pkg/logger"
)

func TestService_SyncConnection(t *testing.T) {
	h := newHarness(t, 100)
	h.activate(t, "35")
	h.client.Put(remote.KindPurchase, purchase("145", "0", "35", "7", "Uber", "56", 42.50))

	svc := pkgsync.NewService(nil, h.engine, h.store, logger.Discard())

	report, err := svc.SyncConnection(context.Background(), h.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, h.conn.ID, report.ConnectionID)
	assert.Len(t, h.store.Transactions(h.conn.ID), 1)

	_, err = svc.SyncConnection(context.Background(), uuid.New())
	assert.ErrorIs(t, err, mirror.ErrConnectionNotFound)
}

func TestService_RunSyncsAllConnections(t *testing.T) {
	h := newHarness(t, 100)
	other := &mirror.Connection{ID: uuid.New(), RealmID: "4620", Tier: "free"}
	h.store.AddConnection(other)

	cfg := pkgsync.DefaultConfig()
	cfg.PollInterval = time.Hour
	svc := pkgsync.NewService(cfg, h.engine, h.store, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		for _, id := range []uuid.UUID{h.conn.ID, other.ID} {
			c, err := h.store.GetConnection(context.Background(), id)
			if err != nil || c.LastSyncAt == nil {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestService_RunDisabled(t *testing.T) {
	h := newHarness(t, 100)
	cfg := pkgsync.DefaultConfig()
	cfg.Enabled = false
	svc := pkgsync.NewService(cfg, h.engine, h.store, logger.Discard())

	svc.Run(context.Background())
	svc.Stop()

	assert.Empty(t, h.store.Audit())
}
