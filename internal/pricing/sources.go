package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const geckoAPIVersionHeader = "application/json;version=20230302"

// GeckoOptions parameterise the GeckoTerminal token price source.
type GeckoOptions struct {
	BaseURL      string
	Network      string
	TokenAddress string
	Timeout      time.Duration
}

// Gecko reads the simple token_price endpoint of a GeckoTerminal-style API.
type Gecko struct {
	opts   GeckoOptions
	client *http.Client
}

// NewGecko constructs the GeckoTerminal source.
func NewGecko(opts GeckoOptions) *Gecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.geckoterminal.com/api/v2"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Gecko{opts: opts, client: &http.Client{Timeout: timeout}}
}

func (g *Gecko) Name() string { return "gecko" }

// Quote fetches the USD price for the configured token address.
func (g *Gecko) Quote(ctx context.Context) (decimal.Decimal, error) {
	if g.opts.TokenAddress == "" {
		return decimal.Decimal{}, errors.New("gecko: token address not configured")
	}

	endpoint := fmt.Sprintf("%s/simple/networks/%s/token_price/%s",
		g.opts.BaseURL, g.opts.Network, g.opts.TokenAddress)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", geckoAPIVersionHeader)

	resp, err := g.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("gecko api status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Attributes struct {
				TokenPrices map[string]string `json:"token_prices"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode gecko response: %w", err)
	}

	raw, ok := payload.Data.Attributes.TokenPrices[strings.ToLower(g.opts.TokenAddress)]
	if !ok {
		return decimal.Decimal{}, errors.New("gecko response missing token price")
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse gecko price: %w", err)
	}
	return price, nil
}

// CMCOptions parameterise the CoinMarketCap quotes source.
type CMCOptions struct {
	BaseURL string
	APIKey  string
	Symbol  string
	Timeout time.Duration
}

// CMC reads the quotes/latest endpoint of a CoinMarketCap-style API.
type CMC struct {
	opts   CMCOptions
	client *http.Client
}

// NewCMC constructs the CoinMarketCap source.
func NewCMC(opts CMCOptions) *CMC {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://pro-api.coinmarketcap.com"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &CMC{opts: opts, client: &http.Client{Timeout: timeout}}
}

func (c *CMC) Name() string { return "cmc" }

// Quote fetches the latest USD quote for the configured symbol.
func (c *CMC) Quote(ctx context.Context) (decimal.Decimal, error) {
	if c.opts.Symbol == "" {
		return decimal.Decimal{}, errors.New("cmc: symbol not configured")
	}

	endpoint := fmt.Sprintf("%s/v1/cryptocurrency/quotes/latest?%s", c.opts.BaseURL, url.Values{
		"symbol":  {c.opts.Symbol},
		"convert": {"USD"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.opts.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("cmc api status %d", resp.StatusCode)
	}

	var payload struct {
		Data map[string]struct {
			Quote map[string]struct {
				Price json.Number `json:"price"`
			} `json:"quote"`
		} `json:"data"`
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode cmc response: %w", err)
	}

	entry, ok := payload.Data[c.opts.Symbol]
	if !ok {
		return decimal.Decimal{}, errors.New("cmc response missing symbol")
	}
	usd, ok := entry.Quote["USD"]
	if !ok {
		return decimal.Decimal{}, errors.New("cmc response missing USD quote")
	}

	price, err := decimal.NewFromString(usd.Price.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse cmc price: %w", err)
	}
	return price, nil
}

// Static always returns a fixed price. Used as the terminal entry of a
// fallback chain.
type Static struct {
	price decimal.Decimal
}

// NewStatic constructs the constant source.
func NewStatic(price decimal.Decimal) *Static {
	return &Static{price: price}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Quote(context.Context) (decimal.Decimal, error) {
	return s.price, nil
}

var (
	_ Source = (*Gecko)(nil)
	_ Source = (*CMC)(nil)
	_ Source = (*Static)(nil)
)
