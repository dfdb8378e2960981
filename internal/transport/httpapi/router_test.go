package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/booksync/internal/infra/gateway/quickbooks"
	"github.com/kislikjeka/booksync/internal/platform/jobs"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/internal/platform/writeback"
	"github.com/kislikjeka/booksync/internal/transport/httpapi"
	"github.com/kislikjeka/booksync/internal/transport/httpapi/handler"
	"github.com/kislikjeka/booksync/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/booksync/pkg/logger"
	"github.com/kislikjeka/booksync/testutil/memstore"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

// =============================================================================
// Fakes
// =============================================================================

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*jobs.Job
	err  error

	approved []uuid.UUID
	classify jobs.ClassifyParams
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{jobs: make(map[uuid.UUID]*jobs.Job)}
}

func (d *fakeDispatcher) add(connID uuid.UUID, kind jobs.Kind) (*jobs.Job, error) {
	if d.err != nil {
		return nil, d.err
	}
	j := &jobs.Job{ID: uuid.New(), ConnectionID: connID, Kind: kind, State: jobs.StateQueued, CreatedAt: time.Now()}
	d.jobs[j.ID] = j
	return j, nil
}

func (d *fakeDispatcher) SubmitSync(connID uuid.UUID) (*jobs.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(connID, jobs.KindSync)
}

func (d *fakeDispatcher) SubmitClassify(connID uuid.UUID, p jobs.ClassifyParams) (*jobs.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classify = p
	return d.add(connID, jobs.KindClassify)
}

func (d *fakeDispatcher) SubmitApprove(connID uuid.UUID, ids []uuid.UUID) (*jobs.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.approved = append(d.approved, ids...)
	return d.add(connID, jobs.KindApprove)
}

func (d *fakeDispatcher) Get(id uuid.UUID) (*jobs.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return j, nil
}

type fakeTokens struct {
	saved map[uuid.UUID]*quickbooks.Tokens
}

func (f *fakeTokens) SaveTokens(_ context.Context, connID uuid.UUID, t *quickbooks.Tokens) error {
	f.saved[connID] = t
	return nil
}

type fakeMeter struct{ balance int }

func (f *fakeMeter) GetBalance(context.Context, string) (int, error) { return f.balance, nil }

type fakeAttacher struct {
	doc writeback.Document
	err error
}

func (f *fakeAttacher) AttachDocument(_ context.Context, _, _ uuid.UUID, doc writeback.Document) (string, error) {
	f.doc = doc
	return "att-1", f.err
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	router     http.Handler
	store      *memstore.Store
	dispatcher *fakeDispatcher
	tokens     *fakeTokens
	attacher   *fakeAttacher
	jwt        *middleware.JWTService
	conn       *mirror.Connection
	tx         *mirror.Transaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	store := memstore.New()
	ctx := context.Background()

	conn := &mirror.Connection{ID: uuid.New(), RealmID: "realm-1", Name: "Acme", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	store.AddConnection(conn)

	require.NoError(t, store.UpsertCategory(ctx, &mirror.Category{ConnectionID: conn.ID, RemoteID: "60", Name: "Auto", Active: true}))
	require.NoError(t, store.UpsertCategory(ctx, &mirror.Category{ConnectionID: conn.ID, RemoteID: "61", Name: "Meals", Active: true}))
	require.NoError(t, store.UpsertAccount(ctx, &mirror.Account{ConnectionID: conn.ID, RemoteID: "35", Name: "Checking", AccountType: "Bank", IsActive: false, IsConnected: true}))

	tx := &mirror.Transaction{
		ID:           uuid.New(),
		ConnectionID: conn.ID,
		RemoteID:     "101",
		RemoteKind:   remote.KindPurchase,
		Subtype:      remote.SubtypeExpense,
		AccountID:    "35",
		Date:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:       decimal.NewFromInt(-100),
		Currency:     "USD",
		Description:  "UBER TRIP 999",
		VersionToken: "3",
		Payload:      json.RawMessage(`{"Id":"101","SyncToken":"3"}`),
		Status:       mirror.StatusUnmatched,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	store.PutTransaction(tx)

	svc := mirror.NewService(store, log)
	dispatcher := newFakeDispatcher()
	tokens := &fakeTokens{saved: make(map[uuid.UUID]*quickbooks.Tokens)}
	attacher := &fakeAttacher{}
	jwtService := middleware.NewJWTService(testSecret)

	router := httpapi.NewRouter(httpapi.Config{
		Logger:             log,
		AllowedOrigins:     []string{"http://localhost:3000"},
		ConnectionHandler:  handler.NewConnectionHandler(svc, tokens, &fakeMeter{balance: 42}),
		TransactionHandler: handler.NewTransactionHandler(svc, attacher),
		ReferenceHandler:   handler.NewReferenceHandler(svc),
		RuleHandler:        handler.NewRuleHandler(svc),
		AuditHandler:       handler.NewAuditHandler(svc),
		JobHandler:         handler.NewJobHandler(dispatcher, svc),
		HealthHandler:      handler.NewHealthHandler(handler.PingFunc(func(context.Context) error { return nil })),
		JWTMiddleware:      middleware.JWTMiddleware(jwtService),
	})

	return &fixture{router: router, store: store, dispatcher: dispatcher, tokens: tokens, attacher: attacher, jwt: jwtService, conn: conn, tx: tx}
}

func (f *fixture) token(t *testing.T, scope ...uuid.UUID) string {
	t.Helper()
	tok, err := f.jwt.GenerateToken("tester", scope, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) connPath(suffix string) string {
	return "/api/v1/connections/" + f.conn.ID.String() + suffix
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// Tests
// =============================================================================

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "", http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	t.Run("Missing_Token", func(t *testing.T) {
		rec := f.do(t, "", http.MethodGet, f.connPath("/transactions"), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Invalid_Token", func(t *testing.T) {
		other := middleware.NewJWTService("another-secret-that-is-long-enough-too")
		tok, err := other.GenerateToken("x", nil, time.Hour)
		require.NoError(t, err)
		rec := f.do(t, tok, http.MethodGet, f.connPath("/transactions"), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Scoped_Token_Other_Connection", func(t *testing.T) {
		rec := f.do(t, f.token(t, uuid.New()), http.MethodGet, f.connPath("/transactions"), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Scoped_Token_Own_Connection", func(t *testing.T) {
		rec := f.do(t, f.token(t, f.conn.ID), http.MethodGet, f.connPath("/transactions"), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Scoped_Token_Lists_Only_Its_Connections", func(t *testing.T) {
		f.store.AddConnection(&mirror.Connection{ID: uuid.New(), RealmID: "realm-2", CreatedAt: time.Now()})
		rec := f.do(t, f.token(t, f.conn.ID), http.MethodGet, "/api/v1/connections", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string][]handler.ConnectionResponse](t, rec)
		require.Len(t, body["connections"], 1)
		assert.Equal(t, f.conn.ID.String(), body["connections"][0].ID)
	})
}

func TestRegisterConnection(t *testing.T) {
	f := newFixture(t)

	req := handler.RegisterConnectionRequest{RealmID: "realm-9", Name: "New Co", RefreshToken: "rt-1"}

	rec := f.do(t, f.token(t, f.conn.ID), http.MethodPost, "/api/v1/connections", req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.token(t), http.MethodPost, "/api/v1/connections", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[handler.ConnectionResponse](t, rec)
	assert.Equal(t, "realm-9", resp.RealmID)

	id := uuid.MustParse(resp.ID)
	require.Contains(t, f.tokens.saved, id)
	assert.Equal(t, "rt-1", f.tokens.saved[id].RefreshToken)

	rec = f.do(t, f.token(t), http.MethodPost, "/api/v1/connections", handler.RegisterConnectionRequest{RealmID: "realm-10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactions(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)
	txPath := f.connPath("/transactions/" + f.tx.ID.String())

	t.Run("List_Needs_Review", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodGet, f.connPath("/transactions?needs_review=true"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string][]handler.TransactionResponse](t, rec)
		require.Len(t, body["transactions"], 1)
		assert.Equal(t, "-100.00", body["transactions"][0].Amount)
		assert.Equal(t, "expense", body["transactions"][0].Direction)
	})

	t.Run("Invalid_Status_Filter", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodGet, f.connPath("/transactions?status=bogus"), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unknown_Transaction", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodGet, f.connPath("/transactions/"+uuid.NewString()), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Edit_Category_Promotes", func(t *testing.T) {
		cat := "60"
		rec := f.do(t, tok, http.MethodPatch, txPath, handler.EditTransactionRequest{CategoryID: &cat})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[handler.TransactionResponse](t, rec)
		assert.Equal(t, "Auto", resp.FinalCategoryName)
		assert.Equal(t, string(mirror.StatusPendingApproval), resp.Status)
	})

	t.Run("Edit_Unknown_Category", func(t *testing.T) {
		cat := "999"
		rec := f.do(t, tok, http.MethodPatch, txPath, handler.EditTransactionRequest{CategoryID: &cat})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "DATA_ERROR", decode[handler.ErrorResponse](t, rec).Code)
	})

	t.Run("Split_Sum_Mismatch", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPut, txPath+"/splits", handler.SplitTransactionRequest{Splits: []handler.SplitRequest{
			{CategoryID: "60", Amount: decimal.NewFromInt(60)},
			{CategoryID: "61", Amount: decimal.NewFromInt(30)},
		}})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		splits, err := f.store.ListSplits(context.Background(), f.tx.ID)
		require.NoError(t, err)
		assert.Empty(t, splits)
	})

	t.Run("Split_Replaces_Set", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rec := f.do(t, tok, http.MethodPut, txPath+"/splits", handler.SplitTransactionRequest{Splits: []handler.SplitRequest{
				{CategoryID: "60", Amount: decimal.NewFromInt(70)},
				{CategoryName: "meals", Amount: decimal.NewFromInt(30)},
			}})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[handler.TransactionResponse](t, rec)
			assert.True(t, resp.IsSplit)
			require.Len(t, resp.Splits, 2)
			assert.Equal(t, "-30.00", resp.Splits[1].Amount)
		}
		splits, err := f.store.ListSplits(context.Background(), f.tx.ID)
		require.NoError(t, err)
		assert.Len(t, splits, 2)
	})

	t.Run("Exclude_And_Include", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, txPath+"/exclude", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[handler.TransactionResponse](t, rec).Excluded)

		rec = f.do(t, tok, http.MethodGet, f.connPath("/transactions?needs_review=true"), nil)
		assert.Empty(t, decode[map[string][]handler.TransactionResponse](t, rec)["transactions"])

		rec = f.do(t, tok, http.MethodDelete, txPath+"/exclude", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decode[handler.TransactionResponse](t, rec).Excluded)
	})

	t.Run("Force_Review", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, txPath+"/review", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[handler.TransactionResponse](t, rec)
		assert.True(t, resp.ForcedReview)
		assert.True(t, resp.NeedsReview)
	})
}

func TestJobs(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)

	t.Run("Trigger_Sync", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, f.connPath("/sync"), nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		job := decode[jobs.Job](t, rec)
		assert.Equal(t, jobs.KindSync, job.Kind)

		rec = f.do(t, tok, http.MethodGet, f.connPath("/jobs/"+job.ID.String()), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Sync_Unknown_Connection", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, "/api/v1/connections/"+uuid.NewString()+"/sync", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Classify_Defaults_To_Provider", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, f.connPath("/classify"), nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.True(t, f.dispatcher.classify.AllowProvider)

		rec = f.do(t, tok, http.MethodPost, f.connPath("/transactions/"+f.tx.ID.String()+"/classify?allow_provider=false"), nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.NotNil(t, f.dispatcher.classify.TransactionID)
		assert.Equal(t, f.tx.ID, *f.dispatcher.classify.TransactionID)
		assert.False(t, f.dispatcher.classify.AllowProvider)
	})

	t.Run("Bulk_Approve", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, f.connPath("/approve"), handler.ApproveRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, tok, http.MethodPost, f.connPath("/approve"), handler.ApproveRequest{TransactionIDs: []uuid.UUID{f.tx.ID}})
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, f.dispatcher.approved, f.tx.ID)
	})

	t.Run("Job_Of_Other_Connection_Is_Hidden", func(t *testing.T) {
		other, err := f.dispatcher.SubmitSync(uuid.New())
		require.NoError(t, err)
		rec := f.do(t, tok, http.MethodGet, f.connPath("/jobs/"+other.ID.String()), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Queue_Full", func(t *testing.T) {
		f.dispatcher.err = jobs.ErrQueueFull
		defer func() { f.dispatcher.err = nil }()
		rec := f.do(t, tok, http.MethodPost, f.connPath("/sync"), nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestReferenceAndRules(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)

	t.Run("Activate_Account", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPut, f.connPath("/accounts/35/active"), handler.SetAccountActiveRequest{Active: true})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, decode[handler.AccountResponse](t, rec).IsActive)

		rec = f.do(t, tok, http.MethodPut, f.connPath("/accounts/999/active"), handler.SetAccountActiveRequest{Active: true})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("List_Categories", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodGet, f.connPath("/categories"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[map[string][]handler.CategoryResponse](t, rec)["categories"], 2)
	})

	t.Run("Create_Rule", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, f.connPath("/rules"), handler.RuleRequest{Name: "empty"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, tok, http.MethodPost, f.connPath("/rules"), handler.RuleRequest{
			Name: "uber", DescriptionContains: "Uber", CategoryName: "auto", Tags: []string{"Weekend"},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		rule := decode[handler.RuleResponse](t, rec)
		assert.Equal(t, "60", rule.CategoryID)

		rec = f.do(t, tok, http.MethodGet, f.connPath("/rules"), nil)
		assert.Len(t, decode[map[string][]handler.RuleResponse](t, rec)["rules"], 1)

		rec = f.do(t, tok, http.MethodDelete, f.connPath("/rules/"+rule.ID), nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = f.do(t, tok, http.MethodDelete, f.connPath("/rules/"+rule.ID), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Create_Alias", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, f.connPath("/aliases"), handler.AliasRequest{Match: "AMZN", VendorName: "Amazon"})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(t, tok, http.MethodGet, f.connPath("/aliases"), nil)
		assert.Len(t, decode[map[string][]handler.AliasResponse](t, rec)["aliases"], 1)
	})

	t.Run("Unknown_Body_Field", func(t *testing.T) {
		rec := f.do(t, tok, http.MethodPost, f.connPath("/aliases"), map[string]string{"pattern": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReevaluateAndAudit(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)

	rec := f.do(t, tok, http.MethodPost, f.connPath("/reevaluate"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[mirror.ReevaluateReport](t, rec)
	assert.Equal(t, 1, report.Checked)

	rec = f.do(t, tok, http.MethodGet, f.connPath("/audit?operation=reevaluate"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[map[string][]handler.AuditEntryResponse](t, rec)["entries"]
	require.Len(t, entries, 1)
	assert.Equal(t, mirror.OpReevaluate, entries[0].Operation)

	rec = f.do(t, tok, http.MethodGet, f.connPath("/audit?since=yesterday"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBalance(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, f.token(t), http.MethodGet, f.connPath("/balance"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42, decode[handler.BalanceResponse](t, rec).Balance)
}

func TestAttachDocument(t *testing.T) {
	f := newFixture(t)
	path := f.connPath("/transactions/" + f.tx.ID.String() + "/attachments")

	upload := func(t *testing.T, withFile bool) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if withFile {
			part, err := mw.CreateFormFile("file", "receipt.pdf")
			require.NoError(t, err)
			_, _ = part.Write([]byte("%PDF-1.4"))
		}
		require.NoError(t, mw.WriteField("note", "lunch receipt"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, path, &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+f.token(t))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("Uploads", func(t *testing.T) {
		rec := upload(t, true)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "att-1", decode[map[string]string](t, rec)["attachment_id"])
		assert.Equal(t, "receipt.pdf", f.attacher.doc.FileName)
		assert.Equal(t, "lunch receipt", f.attacher.doc.Note)
	})

	t.Run("Missing_File", func(t *testing.T) {
		rec := upload(t, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Stale_Object_Is_Version_Conflict", func(t *testing.T) {
		f.attacher.err = fmt.Errorf("failed to upload attachment: %w", remote.ErrStaleObject)
		defer func() { f.attacher.err = nil }()
		rec := upload(t, true)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "VERSION_CONFLICT", decode[handler.ErrorResponse](t, rec).Code)
	})
}
