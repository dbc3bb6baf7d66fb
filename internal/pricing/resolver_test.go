package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type scriptedSource struct {
	name  string
	calls int
	fn    func(call int) (decimal.Decimal, error)
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Quote(context.Context) (decimal.Decimal, error) {
	s.calls++
	return s.fn(s.calls)
}

func fixedSource(name string, price string) *scriptedSource {
	return &scriptedSource{name: name, fn: func(int) (decimal.Decimal, error) {
		return decimal.RequireFromString(price), nil
	}}
}

func brokenSource(name string) *scriptedSource {
	return &scriptedSource{name: name, fn: func(int) (decimal.Decimal, error) {
		return decimal.Decimal{}, errors.New("boom")
	}}
}

func testOptions() Options {
	return Options{
		Attempts:  2,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Fallback:  decimal.RequireFromString("0.00003886"),
	}
}

func TestResolveFirstSourceWins(t *testing.T) {
	first := fixedSource("gecko", "0.02")
	second := fixedSource("cmc", "0.03")
	r := NewResolver("TKN", []Source{first, second}, testOptions(), zerolog.Nop())

	quote := r.Resolve(context.Background())
	if quote.Source != "gecko" {
		t.Fatalf("应使用第一个可用来源, 实际 %s", quote.Source)
	}
	if !quote.Price.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("价格不正确: %s", quote.Price)
	}
	if second.calls != 0 {
		t.Fatalf("第一个来源成功时不应调用后续来源")
	}
}

func TestResolveFallsThroughFailedSources(t *testing.T) {
	r := NewResolver("TKN", []Source{brokenSource("gecko"), fixedSource("cmc", "0.05")}, testOptions(), zerolog.Nop())

	quote := r.Resolve(context.Background())
	if quote.Source != "cmc" {
		t.Fatalf("失败来源应被跳过, 实际使用 %s", quote.Source)
	}
}

func TestResolveRejectsNonPositivePrice(t *testing.T) {
	zero := fixedSource("gecko", "0")
	r := NewResolver("TKN", []Source{zero, fixedSource("cmc", "0.05")}, testOptions(), zerolog.Nop())

	quote := r.Resolve(context.Background())
	if quote.Source != "cmc" {
		t.Fatalf("零价格应视为失败, 实际使用 %s", quote.Source)
	}
}

func TestResolveRetriesBeforeMovingOn(t *testing.T) {
	flaky := &scriptedSource{name: "gecko", fn: func(call int) (decimal.Decimal, error) {
		if call == 1 {
			return decimal.Decimal{}, errors.New("transient")
		}
		return decimal.RequireFromString("0.04"), nil
	}}
	r := NewResolver("TKN", []Source{flaky}, testOptions(), zerolog.Nop())

	quote := r.Resolve(context.Background())
	if quote.Source != "gecko" {
		t.Fatalf("重试后应成功, 实际 %s", quote.Source)
	}
	if flaky.calls != 2 {
		t.Fatalf("期望 2 次调用, 实际 %d", flaky.calls)
	}
}

func TestResolveFallbackNeverFails(t *testing.T) {
	r := NewResolver("TKN", []Source{brokenSource("gecko"), brokenSource("cmc")}, testOptions(), zerolog.Nop())

	quote := r.Resolve(context.Background())
	if quote.Source != "fallback" {
		t.Fatalf("全部来源失败时应返回 fallback, 实际 %s", quote.Source)
	}
	if !quote.Price.Equal(decimal.RequireFromString("0.00003886")) {
		t.Fatalf("fallback 价格不正确: %s", quote.Price)
	}
}

func TestResolveServesCachedQuote(t *testing.T) {
	src := fixedSource("gecko", "0.02")
	opts := testOptions()
	opts.CacheTTL = time.Minute
	r := NewResolver("TKN", []Source{src}, opts, zerolog.Nop())

	base := time.Now()
	r.now = func() time.Time { return base }

	_ = r.Resolve(context.Background())
	_ = r.Resolve(context.Background())
	if src.calls != 1 {
		t.Fatalf("缓存窗口内不应重复请求, 实际 %d 次", src.calls)
	}

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	_ = r.Resolve(context.Background())
	if src.calls != 2 {
		t.Fatalf("缓存过期后应重新请求, 实际 %d 次", src.calls)
	}
}

func TestNewResolverPanicsOnBadFallback(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("非正的 fallback 应 panic")
		}
	}()
	NewResolver("TKN", nil, Options{}, zerolog.Nop())
}
