package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"token-buy-alerts/internal/explorer"
	"token-buy-alerts/internal/pricing"
)

// Category is the discrete size bucket a transfer falls into.
type Category string

const (
	CategorySmall  Category = "small"
	CategoryMedium Category = "medium"
	CategoryWhale  Category = "whale"
	CategoryExtra  Category = "extra"
)

var categoryOrder = []Category{CategorySmall, CategoryMedium, CategoryWhale, CategoryExtra}

// Categorize buckets a USD value against ascending thresholds. A value
// equal to a threshold lands in the higher tier.
func Categorize(usd decimal.Decimal, thresholds []decimal.Decimal) Category {
	idx := 0
	for _, t := range thresholds {
		if usd.GreaterThanOrEqual(t) {
			idx++
		}
	}
	if idx < len(categoryOrder) {
		return categoryOrder[idx]
	}
	return Category(fmt.Sprintf("tier%d", idx+1))
}

// Message is a rendered notification ready for emission.
type Message struct {
	Category Category
	Body     string
	VideoURL string
	ChatID   int64
	USDValue decimal.Decimal
	Hash     string
}

// Extras carry per-transfer context that is optional in the rendered body.
type Extras struct {
	MarketCap        decimal.Decimal
	HoldingChangePct *decimal.Decimal
}

// Options parameterise the formatter.
type Options struct {
	TokenSymbol   string
	TokenDecimals int
	MinUSD        decimal.Decimal
	ThresholdsUSD []decimal.Decimal
	ChatID        int64
	VideoBaseURL  string
	Videos        map[string]string
	TxURLPrefix   string
	BuyURL        string
	ChartURL      string
	StakingURL    string
}

// Formatter converts a normalized transfer plus resolved prices into an
// alert message. Format is a pure function of its inputs.
type Formatter struct {
	opts Options
}

// New constructs a Formatter.
func New(opts Options) *Formatter {
	return &Formatter{opts: opts}
}

// Format renders the alert for a transfer. The second return value is
// false when the computed USD value is below the configured minimum: the
// transfer is suppressed and no message is produced.
func (f *Formatter) Format(transfer explorer.Transfer, tokenQuote pricing.Quote, extras Extras) (Message, bool) {
	amount := decimal.NewFromBigInt(transfer.RawAmount, -int32(f.opts.TokenDecimals))
	usd := amount.Mul(tokenQuote.Price)

	if usd.LessThan(f.opts.MinUSD) {
		return Message{}, false
	}

	category := Categorize(usd, f.opts.ThresholdsUSD)

	var b strings.Builder
	fmt.Fprintf(&b, "🚀 %s Buy! 💰\n\n", f.opts.TokenSymbol)
	b.WriteString(emojiRow(usd))
	b.WriteString("\n")
	fmt.Fprintf(&b, "💰 [$%s](%s): %s ($%s)\n",
		f.opts.TokenSymbol, f.opts.BuyURL, groupDigits(amount.StringFixed(0)), groupDigits(usd.StringFixed(2)))
	if extras.MarketCap.IsPositive() {
		fmt.Fprintf(&b, "🏦 Market Cap: $%s\n", groupDigits(extras.MarketCap.StringFixed(0)))
	}
	if extras.HoldingChangePct != nil {
		fmt.Fprintf(&b, "🔼 Holding Change: %s%%\n", signedFixed(*extras.HoldingChangePct, 2))
	}
	fmt.Fprintf(&b, "🤑 Hodler: %s\n", shortenAddress(transfer.To))
	fmt.Fprintf(&b, "[🔍 View Transaction](%s%s)\n\n", f.opts.TxURLPrefix, transfer.Hash)
	fmt.Fprintf(&b, "[💰 Staking](%s) [📈 Chart](%s) [🤑 Buy $%s](%s)",
		f.opts.StakingURL, f.opts.ChartURL, f.opts.TokenSymbol, f.opts.BuyURL)

	return Message{
		Category: category,
		Body:     b.String(),
		VideoURL: f.videoURL(category),
		ChatID:   f.opts.ChatID,
		USDValue: usd,
		Hash:     transfer.Hash,
	}, true
}

func (f *Formatter) videoURL(category Category) string {
	if f.opts.VideoBaseURL == "" {
		return ""
	}
	id, ok := f.opts.Videos[string(category)]
	if !ok {
		id = f.opts.Videos[string(CategoryExtra)]
	}
	if id == "" {
		return ""
	}
	return fmt.Sprintf("%s/video/upload/w_1280/%s.mp4", strings.TrimRight(f.opts.VideoBaseURL, "/"), id)
}

// emojiRow scales the decorative row with the USD value, capped at 100.
func emojiRow(usd decimal.Decimal) string {
	count := int(usd.IntPart())
	if count > 100 {
		count = 100
	}
	if count < 1 {
		count = 1
	}
	return strings.Repeat("💰", count)
}

func shortenAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func signedFixed(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	if d.Sign() >= 0 {
		return "+" + s
	}
	return s
}

// groupDigits inserts thousand separators into the integer part of a
// fixed-point string.
func groupDigits(s string) string {
	intPart := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	neg := ""
	if strings.HasPrefix(intPart, "-") {
		neg, intPart = "-", intPart[1:]
	}

	n := len(intPart)
	if n <= 3 {
		return neg + intPart + frac
	}

	var b strings.Builder
	first := n % 3
	if first > 0 {
		b.WriteString(intPart[:first])
	}
	for i := first; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return neg + b.String() + frac
}
