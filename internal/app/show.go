package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent price records, or recent error-log entries with
// --errors.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Errors {
		entries, err := store.ListRecentErrors(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stdout, "no errors logged")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tSource\tMessage")
		for _, entry := range entries {
			fmt.Fprintf(writer, "%s\t%s\t%s\n",
				entry.OccurredAt.UTC().Format(time.RFC3339),
				entry.Source,
				sanitizeInline(entry.Message),
			)
		}
		return writer.Flush()
	}

	records, err := store.ListRecentRecords(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Ingested (UTC)\tCoin\tPrice\tMarket Cap\tVolume\t24h %")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.IngestedAt.UTC().Format(time.RFC3339),
			rec.CoinID,
			formatDecimal(rec.CurrentPrice, 2),
			formatDecimal(rec.MarketCap, 0),
			formatDecimal(rec.TotalVolume, 0),
			formatDecimal(rec.PriceChangePct24h, 2),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
