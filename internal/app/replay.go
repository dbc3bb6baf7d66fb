package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"token-buy-alerts/internal/alerting"
	"token-buy-alerts/internal/ledger"
	"token-buy-alerts/internal/notifier"
)

// Replay re-runs historical transfers through the alert pipeline. Hashes
// already present in the ledger are skipped and delivered alerts are
// recorded the same way as live ones, so replaying a block range twice
// sends nothing the second time.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.FromBlock <= 0 || opts.ToBlock <= 0 || opts.FromBlock >= opts.ToBlock {
		return errors.New("from-block must be positive and below to-block")
	}

	led, err := ledger.Open(a.Config.Ledger.Path, a.Logger)
	if err != nil {
		return err
	}
	defer led.Close()

	expl := a.newExplorer()
	token, _, err := a.newResolvers()
	if err != nil {
		return err
	}
	fmtr := a.newFormatter()

	var sink notifier.Notifier
	if !opts.DryRun {
		bot, botErr := a.newBot()
		if botErr != nil {
			return fmt.Errorf("create bot: %w", botErr)
		}
		sink = notifier.NewTelegram(bot, notifier.Options{}, a.Logger)
	}

	transfers, err := expl.TransfersBetween(ctx, opts.FromBlock, opts.ToBlock)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		a.Logger.Info().Msg("no transfers found in replay range")
		return nil
	}

	quote := token.Resolve(ctx)
	supply := expl.TokenSupply(ctx)
	marketCap := supply.Mul(quote.Price)

	var sent, skipped, suppressed int
	for _, tr := range transfers {
		if led.Seen(tr.Hash) {
			skipped++
			continue
		}

		msg, ok := fmtr.Format(tr, quote, alerting.Extras{MarketCap: marketCap})
		if !ok {
			suppressed++
			if !opts.DryRun {
				if err := led.MarkSeen(tr.Hash); err != nil {
					return err
				}
			}
			continue
		}

		if opts.DryRun {
			fmt.Fprintf(os.Stdout, "%s  %s  $%s  %s\n",
				time.Unix(tr.Time, 0).UTC().Format(time.RFC3339), tr.Hash, msg.USDValue.StringFixed(2), msg.Category)
			sent++
			continue
		}

		if err := sink.Emit(ctx, msg); err != nil {
			return fmt.Errorf("emit %s: %w", tr.Hash, err)
		}
		if err := led.MarkSeen(tr.Hash); err != nil {
			return err
		}
		sent++
	}

	a.Logger.Info().
		Int("sent", sent).
		Int("skipped", skipped).
		Int("suppressed", suppressed).
		Bool("dry_run", opts.DryRun).
		Msg("replay finished")
	return nil
}
