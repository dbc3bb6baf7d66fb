package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recently emitted alerts from the audit store.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tHash\tBuyer\tAmount\tUSD\tPrice\tSource\tCategory")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.TxTime.UTC().Format(time.RFC3339),
			shortHash(alert.Hash),
			shortHash(alert.Buyer),
			alert.TokenAmount.StringFixed(0),
			alert.USDValue.StringFixed(2),
			alert.Price.StringFixed(8),
			alert.PriceSource,
			alert.Category,
		)
	}

	writer.Flush()
	return nil
}

func shortHash(v string) string {
	if len(v) <= 14 {
		return v
	}
	return v[:10] + "..."
}
