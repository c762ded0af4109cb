package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainlens-core/server/internal/agent/model"
	errx "github.com/chainlens-core/server/internal/core/error"
)

type recorded struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   map[string]any
}

// fakeAPI records every request and answers with the configured payload.
type fakeAPI struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	payload  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone()}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	status, payload := f.status, f.payload
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func (f *fakeAPI) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newFake(t *testing.T, payload string) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{payload: payload}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestNoditTokensOwnedByAccount(t *testing.T) {
	f, srv := newFake(t, `{"rpp": 2, "items": [{"balance": "1000000000000000000", "contract": {"symbol": "WETH", "decimals": 18}}]}`)
	p, err := NewNodit(model.ProviderConfig{NoditAPIKey: "k", NoditBaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	res, err := p.CallTool(context.Background(), "get_tokens_owned_by_account", map[string]any{
		"account_address": "0xabc",
		"rpp":             float64(500),
	})
	require.NoError(t, err)

	req := f.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/arbitrum/mainnet/token/getTokensOwnedByAccount", req.Path)
	assert.Equal(t, "k", req.Header.Get("X-API-KEY"))
	assert.Equal(t, "0xabc", req.Body["accountAddress"])
	assert.Equal(t, float64(noditMaxRPP), req.Body["rpp"])

	items := res.(map[string]any)["items"].([]any)
	// response strings are left alone; normalization happens when records are built
	assert.Equal(t, "1000000000000000000", items[0].(map[string]any)["balance"])
}

func TestNoditRejectsUnknownChain(t *testing.T) {
	f, srv := newFake(t, `{}`)
	p, err := NewNodit(model.ProviderConfig{NoditAPIKey: "k", NoditBaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = p.CallTool(context.Background(), "get_token_holders_by_contract", map[string]any{
		"blockchain":       "solana",
		"contract_address": "0x1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrToolExecution)
	assert.Empty(t, f.requests)
}

func TestNoditStatsDefaultRange(t *testing.T) {
	f, srv := newFake(t, `{"items": []}`)
	now := func() time.Time { return time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC) }
	p := newNodit(model.ProviderConfig{NoditAPIKey: "k", NoditBaseURL: srv.URL}, srv.Client(), now).catalog()

	_, err := p.CallTool(context.Background(), "get_daily_transaction_stats", nil)
	require.NoError(t, err)

	req := f.last(t)
	assert.Equal(t, "/ethereum/mainnet/stats/getDailyTransactionsStats", req.Path)
	assert.Equal(t, "2025-05-01", req.Body["startDate"])
	assert.Equal(t, "2025-05-31", req.Body["endDate"])
}

func TestNoditWebhookLifecycle(t *testing.T) {
	f, srv := newFake(t, `{"subscriptionId": "sub-1"}`)
	p, err := NewNodit(model.ProviderConfig{NoditAPIKey: "k", NoditBaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.CallTool(ctx, "create_webhook", map[string]any{
		"event_type":  "ADDRESS_ACTIVITY",
		"webhook_url": "https://example.com/hook",
		"condition":   map[string]any{"addresses": []any{"0xabc"}},
	})
	require.NoError(t, err)
	req := f.last(t)
	assert.Equal(t, "/ethereum/mainnet/webhooks", req.Path)
	assert.Equal(t, map[string]any{"webhookUrl": "https://example.com/hook"}, req.Body["notification"])

	_, err = p.CallTool(ctx, "update_webhook", map[string]any{"subscription_id": "sub-1"})
	require.Error(t, err, "update without fields must fail")

	_, err = p.CallTool(ctx, "update_webhook", map[string]any{"subscription_id": "sub-1", "description": "d"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, f.last(t).Method)

	res, err := p.CallTool(ctx, "delete_webhook", map[string]any{"subscription_id": "sub-1"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, f.last(t).Method)
	assert.Equal(t, "success", res.(map[string]any)["status"])

	_, err = p.CallTool(ctx, "get_webhook_history", map[string]any{"subscription_id": "sub-1"})
	require.NoError(t, err)
	req = f.last(t)
	assert.Equal(t, "/ethereum/mainnet/webhooks/sub-1/history", req.Path)
	assert.Equal(t, []string{"20"}, req.Query["rpp"])
}

func TestOneInchPortfolio(t *testing.T) {
	f, srv := newFake(t, `{"result": [{"value_usd": 12.5}]}`)
	p, err := NewOneInch(model.ProviderConfig{OneInchAPIKey: "secret", OneInchBaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	res, err := p.CallTool(context.Background(), "get_general_value_chart_by_address", map[string]any{
		"addresses": []any{"0x1", "0x2"},
		"chain":     "arbitrum",
		"timerange": "1week",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"value_usd": 12.5}}, res)

	req := f.last(t)
	assert.Equal(t, "/portfolio/portfolio/v4/general/value_chart", req.Path)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, []string{"0x1", "0x2"}, req.Query["addresses"])
	assert.Equal(t, []string{"42161"}, req.Query["chain_id"])
	assert.Equal(t, []string{"1week"}, req.Query["timerange"])

	_, err = p.CallTool(context.Background(), "get_general_profit_and_loss_by_address", map[string]any{
		"addresses": "0x1",
		"timerange": "2days",
	})
	assert.ErrorIs(t, err, errx.ErrToolExecution)
}

func TestOneInchAddressEvents(t *testing.T) {
	f, srv := newFake(t, `{"items": [{"id": 1}]}`)
	p, err := NewOneInch(model.ProviderConfig{OneInchAPIKey: "secret", OneInchBaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	res, err := p.CallTool(context.Background(), "get_address_events", map[string]any{
		"address": "0xabc",
		"limit":   "5000",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{}, res, "a missing result field yields an empty list")

	req := f.last(t)
	assert.Equal(t, "/history/v2.0/history/0xabc/events", req.Path)
	assert.Equal(t, []string{"8453"}, req.Query["chainId"])
	assert.Equal(t, []string{"2048"}, req.Query["limit"])
}

func TestZircuitNeedsNoKey(t *testing.T) {
	f, srv := newFake(t, `{"count": "42"}`)
	p, err := NewZircuit(model.ProviderConfig{ZircuitBaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = p.CallTool(context.Background(), "get_transaction_count", nil)
	require.NoError(t, err)
	req := f.last(t)
	assert.Equal(t, "/transactions/count", req.Path)
	assert.Equal(t, []string{"1"}, req.Query["months"])

	_, err = p.CallTool(context.Background(), "get_daily_metrics", map[string]any{"period": "7"})
	assert.ErrorIs(t, err, errx.ErrToolExecution)
	_, err = p.CallTool(context.Background(), "get_daily_metrics", nil)
	assert.ErrorIs(t, err, errx.ErrToolExecution)
}

func TestHTTPErrorsBecomeToolExecution(t *testing.T) {
	f, srv := newFake(t, `{"message": "rate limited"}`)
	f.status = http.StatusTooManyRequests
	p, err := NewZircuit(model.ProviderConfig{ZircuitBaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = p.CallTool(context.Background(), "get_erc20_token_top_holders", map[string]any{"token_addr": "0x1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrToolExecution)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCatalogUnknownTool(t *testing.T) {
	p, err := NewZircuit(model.ProviderConfig{}, nil)
	require.NoError(t, err)
	_, err = p.CallTool(context.Background(), "get_balance", nil)
	assert.ErrorIs(t, err, errx.ErrToolNotFound)
}

func TestListToolsOrderAndCanceledContext(t *testing.T) {
	p, err := NewZircuit(model.ProviderConfig{}, nil)
	require.NoError(t, err)

	tools, err := p.ListTools(context.Background())
	require.NoError(t, err)
	names := make([]string, len(tools))
	for i, d := range tools {
		names[i] = d.Name
	}
	assert.Equal(t, []string{
		"get_daily_metrics",
		"get_transaction_count",
		"get_erc20_token_top_holders",
		"get_internal_transactions_by_address",
	}, names)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.ListTools(ctx)
	assert.ErrorIs(t, err, errx.ErrProviderUnavailable)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{ProviderNodit, ProviderOneInch, ProviderZircuit}, r.Names())

	_, err := r.New("etherscan", model.ProviderConfig{}, nil)
	assert.ErrorIs(t, err, errx.ErrProviderUnavailable)

	_, err = r.New(ProviderNodit, model.ProviderConfig{}, nil)
	assert.ErrorIs(t, err, errx.ErrProviderUnavailable, "missing key is reported, not replaced")

	p, err := r.New(" Zircuit ", model.ProviderConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderZircuit, p.Name())
}

func TestSelectorSnapshot(t *testing.T) {
	s := NewSelector(DefaultRegistry(), model.ProviderConfig{Server: "zircuit", OneInchAPIKey: "k"})
	before, err := s.Resolve()
	require.NoError(t, err)

	require.NoError(t, s.Select(ProviderOneInch))
	after, err := s.Resolve()
	require.NoError(t, err)

	assert.Equal(t, ProviderZircuit, before.Name(), "earlier resolution keeps its provider")
	assert.Equal(t, ProviderOneInch, after.Name())
	assert.Equal(t, ProviderOneInch, s.Current())

	assert.ErrorIs(t, s.Select("nope"), errx.ErrProviderUnavailable)
	assert.Equal(t, ProviderOneInch, s.Current())
}

func TestIsWebhookTool(t *testing.T) {
	for name, want := range map[string]bool{
		"create_webhook":              true,
		"get_webhook_history":         true,
		"list_notifications":          true,
		"get_tokens_owned_by_account": false,
		"get_daily_metrics":           false,
	} {
		assert.Equal(t, want, IsWebhookTool(name), name)
	}
}

func TestArgs(t *testing.T) {
	a := Args{"n": "12", "f": float64(3), "i": int64(9), "bad": "x", "list": "a, b,,c", "flag": "true"}

	n, err := a.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	n, _ = a.Int("f", 0)
	assert.Equal(t, 3, n)
	n, _ = a.Int("i", 0)
	assert.Equal(t, 9, n)
	n, _ = a.Int("missing", 7)
	assert.Equal(t, 7, n)
	_, err = a.Int("bad", 0)
	assert.Error(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, a.Strings("list"))
	assert.True(t, a.Bool("flag", false))

	_, err = a.String("missing")
	assert.Error(t, err)

	v, err := Args{"sort": "ASC"}.OneOf("sort", "desc", []string{"asc", "desc"})
	require.NoError(t, err)
	assert.Equal(t, "asc", v)
}

func TestToolInfo(t *testing.T) {
	d := model.ToolDescriptor{
		Name:        "get_token_prices_by_contracts",
		Description: "prices",
		InputSchema: objectSchema(map[string]param{
			"contract_addresses": {Type: "array", Items: "string", Required: true},
			"network":            {Type: "string", Enum: noditNetworks, Default: "mainnet"},
		}),
	}
	info := ToolInfo(d)
	assert.Equal(t, "get_token_prices_by_contracts", info.Name)

	js, err := info.ParamsOneOf.ToJSONSchema()
	require.NoError(t, err)
	raw, err := json.Marshal(js)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []any{"contract_addresses"}, got["required"])
	props := got["properties"].(map[string]any)
	assert.Equal(t, "array", props["contract_addresses"].(map[string]any)["type"])
	assert.Equal(t, []any{"mainnet", "sepolia"}, props["network"].(map[string]any)["enum"])

	// schemas decoded from JSON carry required as []any
	decodedReq := requiredSet([]any{"a"})
	assert.True(t, decodedReq["a"])

	assert.Nil(t, ToolInfo(model.ToolDescriptor{Name: "noop"}).ParamsOneOf)
}
