package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"token-buy-alerts/internal/alerting"
	"token-buy-alerts/internal/explorer"
	"token-buy-alerts/internal/notifier"
)

const simulatedBuyer = "0x000000000000000000000000000000000000dEaD"

// SimulateBuy 按给定的美元金额构造一笔虚拟买单并走完整条告警链路。
func (a *App) SimulateBuy(ctx context.Context, usd decimal.Decimal) error {
	if !usd.IsPositive() {
		return errors.New("usd amount must be positive")
	}

	fmtr := a.fmtr
	if fmtr == nil {
		fmtr = a.newFormatter()
	}

	token := a.token
	if token == nil {
		var err error
		token, _, err = a.newResolvers()
		if err != nil {
			return err
		}
	}

	sink := a.notif
	if sink == nil {
		bot, err := a.newBot()
		if err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
		sink = notifier.NewTelegram(bot, notifier.Options{}, a.Logger)
	}

	quote := token.Resolve(ctx)
	amount := usd.Div(quote.Price)

	transfer := explorer.Transfer{
		Hash:      fmt.Sprintf("simulated-%d", time.Now().UnixNano()),
		From:      a.Config.Explorer.WatchedAddress,
		To:        simulatedBuyer,
		RawAmount: amount.Shift(int32(a.Config.Alert.TokenDecimals)).BigInt(),
		Time:      time.Now().Unix(),
	}

	msg, ok := fmtr.Format(transfer, quote, alerting.Extras{})
	if !ok {
		return fmt.Errorf("simulated value $%s is below the alert minimum", usd.StringFixed(2))
	}

	a.Logger.Info().Str("usd", usd.StringFixed(2)).Str("category", string(msg.Category)).Msg("sending simulated alert")
	return sink.Emit(ctx, msg)
}
