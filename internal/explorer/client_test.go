package explorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	testWatched  = "0xWatchedWallet000000000000000000000000001"
	testContract = "0xContract00000000000000000000000000000001"
)

type tokentxRow struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
}

func tokentxServer(t *testing.T, hits *atomic.Int64, rows []tokentxRow) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		q := r.URL.Query()
		if q.Get("module") == "account" && q.Get("action") == "tokentx" {
			if q.Get("sort") != "desc" {
				t.Fatalf("应按时间倒序请求, 实际 sort=%s", q.Get("sort"))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":  "1",
				"message": "OK",
				"result":  rows,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "0", "message": "NOTOK", "result": "unsupported"})
	}))
}

func testClient(baseURL string, ttl time.Duration) *Client {
	return New(Options{
		BaseURL:        baseURL,
		APIKey:         "key",
		Contract:       testContract,
		Watched:        testWatched,
		PageSize:       50,
		Timeout:        time.Second,
		CacheTTL:       ttl,
		SupplyFallback: decimal.NewFromInt(1000000),
		TokenDecimals:  18,
	}, zerolog.Nop())
}

func TestRecentTransfersFiltersAndParses(t *testing.T) {
	rows := []tokentxRow{
		{Hash: "0x1", From: testWatched, To: "0xbuyer1", Value: "5000000000000000000", BlockNumber: "100", TimeStamp: "1700000000"},
		{Hash: "0x2", From: "0xsomeoneelse", To: testWatched, Value: "1", BlockNumber: "101", TimeStamp: "1700000100"},
		{Hash: "", From: testWatched, To: "0xbuyer2", Value: "1", BlockNumber: "102", TimeStamp: "1700000200"},
		{Hash: "0x4", From: testWatched, To: "0xbuyer3", Value: "not-a-number", BlockNumber: "103", TimeStamp: "1700000300"},
	}
	srv := tokentxServer(t, nil, rows)
	defer srv.Close()

	c := testClient(srv.URL, time.Minute)
	transfers := c.RecentTransfers(context.Background())

	if len(transfers) != 1 {
		t.Fatalf("只应保留 watched 发出的完整记录, 实际 %d 条", len(transfers))
	}
	tr := transfers[0]
	if tr.Hash != "0x1" || tr.To != "0xbuyer1" || tr.Block != 100 || tr.Time != 1700000000 {
		t.Fatalf("解析结果不正确: %+v", tr)
	}
	if tr.RawAmount.String() != "5000000000000000000" {
		t.Fatalf("原始金额不正确: %s", tr.RawAmount)
	}
}

func TestRecentTransfersFreshnessCache(t *testing.T) {
	var hits atomic.Int64
	srv := tokentxServer(t, &hits, []tokentxRow{
		{Hash: "0x1", From: testWatched, To: "0xbuyer", Value: "1", BlockNumber: "100", TimeStamp: "1700000000"},
	})
	defer srv.Close()

	c := testClient(srv.URL, time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	first := c.RecentTransfers(context.Background())
	second := c.RecentTransfers(context.Background())

	if hits.Load() != 1 {
		t.Fatalf("缓存窗口内不应重复请求上游, 实际 %d 次", hits.Load())
	}
	if len(first) != 1 || len(second) != 1 || first[0].Hash != second[0].Hash {
		t.Fatal("缓存应返回同一批数据")
	}

	c.now = func() time.Time { return base.Add(3 * time.Minute) }
	_ = c.RecentTransfers(context.Background())
	if hits.Load() != 2 {
		t.Fatalf("缓存过期后应重新请求, 实际 %d 次", hits.Load())
	}
}

func TestRecentTransfersServesStaleOnError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "1", "message": "OK",
			"result": []tokentxRow{
				{Hash: "0x1", From: testWatched, To: "0xbuyer", Value: "1", BlockNumber: "100", TimeStamp: "1700000000"},
			},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL, time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	good := c.RecentTransfers(context.Background())
	if len(good) != 1 {
		t.Fatalf("首次拉取应成功, 实际 %d 条", len(good))
	}

	fail.Store(true)
	c.now = func() time.Time { return base.Add(3 * time.Minute) }

	stale := c.RecentTransfers(context.Background())
	if len(stale) != 1 || stale[0].Hash != "0x1" {
		t.Fatal("上游失败时应返回上一批成功数据")
	}
}

func TestTokenSupplyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, time.Minute)
	supply := c.TokenSupply(context.Background())
	if !supply.Equal(decimal.NewFromInt(1000000)) {
		t.Fatalf("供应量获取失败时应使用回退常量, 实际 %s", supply)
	}
}

func TestTokenSupplyParsesWholeUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "1",
			"result": "2000000000000000000000000",
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL, time.Minute)
	supply := c.TokenSupply(context.Background())
	if !supply.Equal(decimal.NewFromInt(2000000)) {
		t.Fatalf("供应量应换算为整币单位, 实际 %s", supply)
	}
}

func TestLatestBlockParsesHex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "0x1b4"})
	}))
	defer srv.Close()

	c := testClient(srv.URL, time.Minute)
	block, err := c.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("解析区块高度失败: %v", err)
	}
	if block != 436 {
		t.Fatalf("期望 436, 实际 %d", block)
	}
}

func TestBalanceAtBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("blockno"); got != "99" {
			t.Fatalf("blockno 参数不正确: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "1",
			"result": "7000000000000000000",
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL, time.Minute)
	balance, err := c.BalanceAtBlock(context.Background(), "0xbuyer", 99)
	if err != nil {
		t.Fatalf("查询历史余额失败: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("余额应换算为整币单位, 实际 %s", balance)
	}
}
