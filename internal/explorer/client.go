package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Transfer is one normalized on-chain token-transfer event.
type Transfer struct {
	Hash      string   `json:"hash"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	RawAmount *big.Int `json:"raw_amount"`
	Block     int64    `json:"block"`
	Time      int64    `json:"time"`
}

// Options parameterise the explorer client.
type Options struct {
	BaseURL        string
	APIKey         string
	Contract       string
	Watched        string
	PageSize       int
	Timeout        time.Duration
	CacheTTL       time.Duration
	SupplyFallback decimal.Decimal
	TokenDecimals  int
}

// Client queries a BscScan-style explorer API for token transfers and
// related account data.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu        sync.Mutex
	cached    []Transfer
	lastFetch time.Time
	now       func() time.Time
}

// New constructs an explorer client.
func New(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Minute
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.bscscan.com/api"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "explorer").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// RecentTransfers returns the most recent outgoing transfers of the watched
// address, newest first as supplied by the upstream. Within the freshness
// window the previous batch is returned without a new request. On upstream
// failure the last good batch is returned instead of an error: stale data
// over no data.
func (c *Client) RecentTransfers(ctx context.Context) []Transfer {
	c.mu.Lock()
	if len(c.cached) > 0 && c.now().Sub(c.lastFetch) < c.opts.CacheTTL {
		batch := c.cached
		c.mu.Unlock()
		c.logger.Debug().Int("count", len(batch)).Msg("returning cached transfer batch")
		return batch
	}
	c.mu.Unlock()

	batch, err := c.fetchTransfers(ctx, 0, 0)
	if err != nil {
		c.mu.Lock()
		stale := c.cached
		c.mu.Unlock()
		c.logger.Warn().Err(err).Int("stale_count", len(stale)).Msg("transfer fetch failed, serving stale batch")
		return stale
	}

	c.mu.Lock()
	c.cached = batch
	c.lastFetch = c.now()
	c.mu.Unlock()

	c.logger.Info().Int("count", len(batch)).Msg("fetched transfer batch")
	return batch
}

// TransfersBetween fetches transfers within an explicit block range,
// bypassing the cache. Used by the replay command.
func (c *Client) TransfersBetween(ctx context.Context, fromBlock, toBlock int64) ([]Transfer, error) {
	return c.fetchTransfers(ctx, fromBlock, toBlock)
}

// CachedBatch returns the last successfully fetched batch and its age.
func (c *Client) CachedBatch() ([]Transfer, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached, c.lastFetch
}

func (c *Client) fetchTransfers(ctx context.Context, fromBlock, toBlock int64) ([]Transfer, error) {
	params := url.Values{
		"module":          {"account"},
		"action":          {"tokentx"},
		"contractaddress": {c.opts.Contract},
		"address":         {c.opts.Watched},
		"page":            {"1"},
		"offset":          {strconv.Itoa(c.opts.PageSize)},
		"sort":            {"desc"},
		"apikey":          {c.opts.APIKey},
	}
	if fromBlock > 0 {
		params.Set("startblock", strconv.FormatInt(fromBlock, 10))
	}
	if toBlock > 0 {
		params.Set("endblock", strconv.FormatInt(toBlock, 10))
	}

	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  []struct {
			Hash        string `json:"hash"`
			From        string `json:"from"`
			To          string `json:"to"`
			Value       string `json:"value"`
			BlockNumber string `json:"blockNumber"`
			TimeStamp   string `json:"timeStamp"`
		} `json:"result"`
	}
	if err := c.get(ctx, params, &payload); err != nil {
		return nil, err
	}
	if payload.Status != "1" {
		return nil, fmt.Errorf("explorer api error: %s", payload.Message)
	}

	transfers := make([]Transfer, 0, len(payload.Result))
	watched := strings.ToLower(c.opts.Watched)
	for _, row := range payload.Result {
		if strings.ToLower(row.From) != watched {
			continue
		}
		if row.Hash == "" {
			c.logger.Warn().Msg("dropping transfer row with missing hash")
			continue
		}
		amount, ok := new(big.Int).SetString(row.Value, 10)
		if !ok {
			c.logger.Warn().Str("hash", row.Hash).Str("value", row.Value).Msg("dropping transfer row with non-numeric amount")
			continue
		}
		block, err := strconv.ParseInt(row.BlockNumber, 10, 64)
		if err != nil {
			c.logger.Warn().Str("hash", row.Hash).Msg("dropping transfer row with invalid block number")
			continue
		}
		ts, err := strconv.ParseInt(row.TimeStamp, 10, 64)
		if err != nil {
			c.logger.Warn().Str("hash", row.Hash).Msg("dropping transfer row with invalid timestamp")
			continue
		}
		transfers = append(transfers, Transfer{
			Hash:      row.Hash,
			From:      row.From,
			To:        row.To,
			RawAmount: amount,
			Block:     block,
			Time:      ts,
		})
	}
	return transfers, nil
}

// TokenSupply returns the whole-unit token supply, falling back to the
// configured constant when the endpoint fails.
func (c *Client) TokenSupply(ctx context.Context) decimal.Decimal {
	params := url.Values{
		"module":          {"stats"},
		"action":          {"tokensupply"},
		"contractaddress": {c.opts.Contract},
		"apikey":          {c.opts.APIKey},
	}

	var payload struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	if err := c.get(ctx, params, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("token supply fetch failed, using fallback")
		return c.opts.SupplyFallback
	}
	if payload.Status != "1" {
		c.logger.Warn().Str("result", payload.Result).Msg("token supply api error, using fallback")
		return c.opts.SupplyFallback
	}

	raw, ok := new(big.Int).SetString(payload.Result, 10)
	if !ok {
		c.logger.Warn().Str("result", payload.Result).Msg("token supply not numeric, using fallback")
		return c.opts.SupplyFallback
	}
	return decimal.NewFromBigInt(raw, -int32(c.decimals()))
}

// LatestBlock returns the chain head height via the explorer proxy.
func (c *Client) LatestBlock(ctx context.Context) (int64, error) {
	params := url.Values{
		"module": {"proxy"},
		"action": {"eth_blockNumber"},
		"apikey": {c.opts.APIKey},
	}

	var payload struct {
		Result string `json:"result"`
	}
	if err := c.get(ctx, params, &payload); err != nil {
		return 0, err
	}

	block, err := strconv.ParseInt(strings.TrimPrefix(payload.Result, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", payload.Result, err)
	}
	return block, nil
}

// BalanceAtBlock returns a wallet's whole-unit token balance at a given
// block height. Feeds the holding-change figure in alerts.
func (c *Client) BalanceAtBlock(ctx context.Context, wallet string, block int64) (decimal.Decimal, error) {
	params := url.Values{
		"module":          {"account"},
		"action":          {"tokenbalancehistory"},
		"contractaddress": {c.opts.Contract},
		"address":         {wallet},
		"blockno":         {strconv.FormatInt(block, 10)},
		"apikey":          {c.opts.APIKey},
	}

	var payload struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	if err := c.get(ctx, params, &payload); err != nil {
		return decimal.Decimal{}, err
	}
	if payload.Status != "1" {
		return decimal.Decimal{}, errors.New("balance history unavailable")
	}

	raw, ok := new(big.Int).SetString(payload.Result, 10)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("balance not numeric: %q", payload.Result)
	}
	return decimal.NewFromBigInt(raw, -int32(c.decimals())), nil
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("explorer api status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode explorer response: %w", err)
	}
	return nil
}

func (c *Client) decimals() int {
	if c.opts.TokenDecimals > 0 {
		return c.opts.TokenDecimals
	}
	return 18
}
