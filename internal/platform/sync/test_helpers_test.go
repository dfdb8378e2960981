package sync_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/booksync/internal/platform/lock"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	pkgsync "github.com/kislikjeka/booksync/internal/platform/sync"
	"github.com/kislikjeka/booksync/pkg/logger"
	"github.com/kislikjeka/booksync/testutil/memstore"
	"github.com/kislikjeka/booksync/testutil/remotefake"
)

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	client *remotefake.Client
	store  *memstore.Store
	locker *lock.Local
	engine *pkgsync.Engine
	conn   *mirror.Connection
}

func newHarness(t *testing.T, pageSize int) *harness {
	t.Helper()

	client := remotefake.New()
	store := memstore.New()
	locker := lock.NewLocal()
	conn := &mirror.Connection{ID: uuid.New(), RealmID: "9130", Tier: "free", CreatedAt: time.Now()}
	store.AddConnection(conn)

	cfg := pkgsync.DefaultConfig()
	cfg.PageSize = pageSize

	seedChartOfAccounts(client)

	return &harness{
		client: client,
		store:  store,
		locker: locker,
		engine: pkgsync.NewEngine(cfg, client, store, locker, logger.Discard()),
		conn:   conn,
	}
}

func seedChartOfAccounts(c *remotefake.Client) {
	c.Put(remote.KindAccount, `{"Id":"35","Name":"Checking","AccountType":"Bank","CurrentBalance":1200.50,"CurrencyRef":{"value":"USD"},"Active":true}`)
	c.Put(remote.KindAccount, `{"Id":"36","Name":"Savings","AccountType":"Bank","CurrentBalance":5000,"Active":true}`)
	c.Put(remote.KindAccount, `{"Id":"41","Name":"Visa","AccountType":"Credit Card","Active":true}`)
	c.Put(remote.KindAccount, `{"Id":"56","Name":"Travel","AccountType":"Expense","Classification":"Expense","Active":true}`)
	c.Put(remote.KindAccount, `{"Id":"57","Name":"Meals","AccountType":"Expense","Classification":"Expense","Active":true}`)
	c.Put(remote.KindAccount, `{"Id":"90","Name":"Uncategorized Expense","AccountType":"Expense","Active":true}`)
	c.Put(remote.KindVendor, `{"Id":"7","DisplayName":"Uber","Active":true}`)
	c.Put(remote.KindVendor, `{"Id":"8","DisplayName":"Blue Bottle","Active":true}`)
	c.Put(remote.KindCustomer, `{"Id":"3","DisplayName":"Acme Co","Active":true}`)
}

func (h *harness) sync(t *testing.T) *pkgsync.Report {
	t.Helper()
	return h.engine.Sync(context.Background(), h.conn)
}

// activate syncs reference data once and turns the given accounts on
func (h *harness) activate(t *testing.T, accountIDs ...string) {
	t.Helper()
	h.sync(t)
	for _, id := range accountIDs {
		require.NoError(t, h.store.SetAccountActive(context.Background(), h.conn.ID, id, true))
	}
}

func purchase(id, token, account, vendorID, vendorName, category string, amount float64) string {
	entity := ""
	if vendorID != "" {
		entity = fmt.Sprintf(`"EntityRef":{"value":%q,"name":%q},`, vendorID, vendorName)
	}
	return fmt.Sprintf(`{"Id":%q,"SyncToken":%q,"TxnDate":"2024-03-09","TotalAmt":%.2f,%s
		"AccountRef":{"value":%q},"TxnSource":"BankFeed","ClearedStatus":"Cleared",
		"Line":[{"Id":"1","Amount":%.2f,"Description":"card swipe","DetailType":"AccountBasedExpenseLineDetail",
			"AccountBasedExpenseLineDetail":{"AccountRef":{"value":%q,"name":"cat-%s"}}}]}`,
		id, token, amount, entity, account, amount, category, category)
}
