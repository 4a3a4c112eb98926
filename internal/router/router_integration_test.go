//go:build integration

package router_test

// End-to-end tests against real Postgres + Redis via testcontainers.
// Run with: go test -tags integration ./internal/router/... -v

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"restopos/internal/config"
	"restopos/internal/infra"
	"restopos/internal/model"
	"restopos/internal/repository"
	"restopos/internal/router"
	"restopos/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"golang.org/x/crypto/bcrypt"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, token string) *http.Response {
	t.Helper()
	var buf *bytes.Buffer
	if body != nil {
		buf = jsonBody(t, body)
	} else {
		buf = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, srv.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func login(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/v1/auth/login", map[string]string{"username": username, "password": password}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		AccessToken string `json:"access_token"`
	}
	decodeJSON(t, resp, &body)
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken
}

// ── Test Suite Setup ─────────────────────────────────────────────────────────

func setup(t *testing.T) (*httptest.Server, func() int64) {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("restopos_test"),
		tcPostgres.WithUsername("restopos"),
		tcPostgres.WithPassword("restopos"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })
	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rdC, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })
	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.Config{
		Env:                "test",
		JWTSecret:          "test-secret-key",
		JWTExpirationHours: 8,
		JWTRefreshHours:    24,
		DatabaseURL:        pgURL,
		RedisURL:           rdURL,
		ClosingReportEmail: "gerencia@restaurante.com.br",
		LockTTLSeconds:     5,
		LockBackend:        "redis",
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(cfg.RedisURL)
	require.NoError(t, err)

	ops := repository.NewOperatorRepository(db)
	for _, seed := range []struct{ username, role string }{
		{"ana", model.RoleCashier},
		{"gerente", model.RoleSupervisor},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte("senha-forte"), bcrypt.MinCost)
		require.NoError(t, err)
		require.NoError(t, ops.Upsert(ctx, &model.Operator{
			Username: seed.username, Name: seed.username, PasswordHash: string(hash), Role: seed.role, Active: true,
		}))
	}

	srv := httptest.NewServer(router.New(cfg, db, rdb, infra.NewMailer(cfg)))
	t.Cleanup(srv.Close)

	queueLen := func() int64 { return rdb.LLen(ctx, worker.QueueClosingReport).Val() }
	return srv, queueLen
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestE2E_FullShift(t *testing.T) {
	srv, queueLen := setup(t)
	token := login(t, srv, "ana", "senha-forte")

	// 1. Open
	resp := do(t, srv, http.MethodPost, "/v1/cashier/open", map[string]string{"initial_amount": "R$ 100,00"}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var session struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &session)
	base := "/v1/cashier/" + session.ID

	resp = do(t, srv, http.MethodPost, "/v1/cashier/open", map[string]string{"initial_amount": "0"}, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// 2. Movements
	resp = do(t, srv, http.MethodPost, base+"/movements", map[string]string{"type": "SUPPLY", "amount": "50", "reason": "Troco"}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = do(t, srv, http.MethodPost, base+"/movements", map[string]string{"type": "WITHDRAWAL", "amount": "500", "reason": "Sangria"}, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// 3. Sale and payment
	resp = do(t, srv, http.MethodPost, base+"/sales", map[string]any{
		"items": []map[string]any{{"name": "Picanha", "unit_price": "89,90", "quantity": 1}},
		"table": "4",
	}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sale struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &sale)

	resp = do(t, srv, http.MethodPost, base+"/sales/"+sale.ID+"/payment", map[string]string{"method": "CASH", "amount_received": "100"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// 4. Balance
	resp = do(t, srv, http.MethodGet, base, nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail struct {
		CurrentBalance struct {
			Cents int64 `json:"cents"`
		} `json:"current_balance"`
		Sales []struct {
			Status string `json:"status"`
		} `json:"sales"`
	}
	decodeJSON(t, resp, &detail)
	assert.Equal(t, int64(23990), detail.CurrentBalance.Cents)
	require.Len(t, detail.Sales, 1)
	assert.Equal(t, "PAID", detail.Sales[0].Status)

	// 5. Close
	resp = do(t, srv, http.MethodPost, base+"/close", map[string]string{"counted_amount": "239,90"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var closing struct {
		Classification string `json:"classification"`
	}
	decodeJSON(t, resp, &closing)
	assert.Equal(t, "RECONCILED", closing.Classification)
	assert.Equal(t, int64(1), queueLen())

	resp = do(t, srv, http.MethodPost, base+"/movements", map[string]string{"type": "SUPPLY", "amount": "1", "reason": "x"}, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// 6. History is for managers only
	resp = do(t, srv, http.MethodGet, "/v1/cashier/history", nil, token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	manager := login(t, srv, "gerente", "senha-forte")
	resp = do(t, srv, http.MethodGet, "/v1/cashier/history", nil, manager)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Total int64 `json:"total"`
	}
	decodeJSON(t, resp, &history)
	assert.Equal(t, int64(1), history.Total)
}

func TestE2E_ConcurrentWithdrawals(t *testing.T) {
	srv, _ := setup(t)
	token := login(t, srv, "ana", "senha-forte")

	resp := do(t, srv, http.MethodPost, "/v1/cashier/open", map[string]string{"initial_amount": "100"}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var session struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &session)

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/cashier/"+session.ID+"/movements",
				bytes.NewBufferString(`{"type":"WITHDRAWAL","amount":"30","reason":"Sangria"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)
			r, err := srv.Client().Do(req)
			if !assert.NoError(t, err) {
				return
			}
			r.Body.Close()
			mu.Lock()
			codes[r.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// three fit in R$ 100; the rest either lost the race for the lock or the balance
	assert.Equal(t, 3, codes[http.StatusCreated])
	assert.Equal(t, 3, codes[http.StatusConflict]+codes[http.StatusLocked])
}
