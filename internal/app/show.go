package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints a user's recently refreshed books.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show books")
	}
	if closeStore != nil {
		defer closeStore()
	}

	books, err := store.ListRecentBooks(ctx, opts.UserID, opts.Limit)
	if err != nil {
		return err
	}
	if len(books) == 0 {
		fmt.Fprintln(os.Stdout, "no books found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ISBN\tTitle\tPrice\tVendor\tHigh\t%High\tTier\tUpdated (UTC)")

	for _, book := range books {
		title := book.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		updated := ""
		if !book.LastPriceUpdate.IsZero() {
			updated = book.LastPriceUpdate.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			book.ISBN,
			title,
			book.CurrentPrice.StringFixed(2),
			book.BestVendor,
			book.HistoricalHigh.StringFixed(2),
			book.PercentOfHigh.StringFixed(1),
			book.Tier,
			updated,
		)
	}

	writer.Flush()
	return nil
}
