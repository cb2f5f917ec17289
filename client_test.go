package kstock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestClientURLResolution(t *testing.T) {
	ctx := context.Background()

	c, err := NewClient(ctx, StaticToken("t"),
		WithAPIBaseURL("https://api.example.com"),
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	if got := c.market.config.URL; got != "wss://api.example.com/ws/realtime" {
		t.Errorf("market url = %q", got)
	}
	if got := c.agent.config.URL; got != "wss://api.example.com/ws/agents" {
		t.Errorf("agent url = %q", got)
	}

	// explicit override beats derivation
	c2, err := NewClient(ctx, StaticToken("t"),
		WithAPIBaseURL("https://api.example.com"),
		WithMarketWSURL("ws://edge.example.com/feed"),
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c2.Close()

	if got := c2.market.config.URL; got != "ws://edge.example.com/feed" {
		t.Errorf("override lost: %q", got)
	}
	if got := c2.agent.config.URL; got != "wss://api.example.com/ws/agents" {
		t.Errorf("agent url should still derive: %q", got)
	}

	// nothing configured falls back to the local dev origin
	c3, err := NewClient(ctx, StaticToken("t"),
		WithAPIBaseURL(""),
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c3.Close()

	if got := c3.market.config.URL; got != "ws://localhost:8000/ws/realtime" {
		t.Errorf("fallback url = %q", got)
	}
}

func TestNewClientRequiresTokenProvider(t *testing.T) {
	if _, err := NewClient(context.Background(), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func newBackendStub(t *testing.T, extra func(mux *http.ServeMux)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/market/stocks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]StockQuote{
			{Code: "005930", Name: "삼성전자", Price: 70_000},
			{Code: "000660", Name: "SK하이닉스", Price: 180_000},
		})
	})
	mux.HandleFunc("/api/account", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AccountSnapshot{
			AccountID: "acc-1", Balance: 3_000_000, InitialCapital: 10_000_000,
		})
	})
	mux.HandleFunc("/api/account/portfolio/acc-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PortfolioResponse{
			Account: AccountSnapshot{AccountID: "acc-1", Balance: 3_000_000, InitialCapital: 10_000_000},
			Holdings: []Holding{
				{Code: "035720", Name: "카카오", Quantity: 10, AvgPrice: 50_000, CurrentPrice: 52_000},
			},
		})
	})
	if extra != nil {
		extra(mux)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newStubbedClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), StaticToken("t"),
		WithAPIBaseURL(srv.URL),
		WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientBootstrap(t *testing.T) {
	srv := newBackendStub(t, nil)
	c := newStubbedClient(t, srv)

	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	stocks := c.Stocks()
	if len(stocks) != 2 || stocks[0].Name != "삼성전자" {
		t.Errorf("stocks = %+v", stocks)
	}

	// every visible instrument plus every holding is subscribed
	for _, code := range []string{"005930", "000660", "035720"} {
		if !c.registry.Contains(code) {
			t.Errorf("code %s missing from subscription set", code)
		}
	}

	acc := c.Account()
	if acc.TotalAsset != 3_000_000+520_000 {
		t.Errorf("total asset = %d, want 3520000", acc.TotalAsset)
	}

	holdings := c.Holdings()
	if len(holdings) != 1 || holdings[0].Profit != 20_000 {
		t.Errorf("holdings = %+v", holdings)
	}
}

// A bootstrap fetch that resolves after the focus moved on is discarded.
func TestSelectStockStaleFetchDiscarded(t *testing.T) {
	releaseA := make(chan struct{})

	srv := newBackendStub(t, func(mux *http.ServeMux) {
		mux.HandleFunc("/api/market/price/005930", func(w http.ResponseWriter, r *http.Request) {
			<-releaseA
			json.NewEncoder(w).Encode(SelectedPrice{Code: "005930", Price: 71_000, Change: 1_000})
		})
		mux.HandleFunc("/api/market/price/000660", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(SelectedPrice{Code: "000660", Price: 180_500, Change: 500})
		})
	})
	c := newStubbedClient(t, srv)

	if err := c.SelectStock("005930"); err != nil {
		t.Fatalf("SelectStock: %v", err)
	}
	if err := c.SelectStock("000660"); err != nil {
		t.Fatalf("SelectStock: %v", err)
	}

	// the second selection's fetch lands
	waitFor(t, func() bool {
		sel := c.Selected()
		return sel != nil && sel.Code == "000660"
	})

	// now let the first selection's fetch resolve; it is stale
	close(releaseA)
	time.Sleep(100 * time.Millisecond)

	sel := c.Selected()
	if sel == nil || sel.Code != "000660" || sel.Price != 180_500 {
		t.Errorf("stale fetch overwrote focus: %+v", sel)
	}
}

func TestSelectStockRejectsBlankCode(t *testing.T) {
	srv := newBackendStub(t, nil)
	c := newStubbedClient(t, srv)

	if err := c.SelectStock("  "); !errors.Is(err, ErrInvalidStockCode) {
		t.Errorf("err = %v, want ErrInvalidStockCode", err)
	}
}

func TestPlaceOrderTickValidation(t *testing.T) {
	rc := NewRestClient("http://localhost:8000", StaticToken("t"), zap.NewNop())

	_, err := rc.PlaceOrder(context.Background(), OrderRequest{
		AccountID: "acc-1", Code: "005930", Side: "buy", Quantity: 1, Price: 71_234,
	})
	if !errors.Is(err, ErrTickMismatch) {
		t.Errorf("err = %v, want ErrTickMismatch", err)
	}

	_, err = rc.PlaceOrder(context.Background(), OrderRequest{
		AccountID: "acc-1", Side: "buy", Quantity: 1, Price: 71_200,
	})
	if !errors.Is(err, ErrInvalidStockCode) {
		t.Errorf("err = %v, want ErrInvalidStockCode", err)
	}
}

func TestRestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	rc := NewRestClient(srv.URL, StaticToken("t"), zap.NewNop())
	_, err := rc.ListStocks(context.Background())
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("err = %v, want ErrRequestFailed", err)
	}
}

func TestRestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]StockQuote{})
	}))
	defer srv.Close()

	rc := NewRestClient(srv.URL, StaticToken("secret"), zap.NewNop())
	if _, err := rc.ListStocks(context.Background()); err != nil {
		t.Fatalf("ListStocks: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization header = %q", gotAuth)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
