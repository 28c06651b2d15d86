package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/revenueinsights/bookshelf-sub000/internal/pricing"
)

// Chart renders one book's recorded price history as a PNG time series.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	if opts.PNGPath == "" {
		return errors.New("--png path must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot chart")
	}
	if closeStore != nil {
		defer closeStore()
	}

	book, err := store.GetBook(ctx, opts.UserID, opts.ISBN)
	if err != nil {
		return err
	}
	if len(book.History.Entries) < 2 {
		return fmt.Errorf("book %s has %d recorded prices; need at least 2 to chart", opts.ISBN, len(book.History.Entries))
	}

	title := book.Title
	if title == "" {
		title = book.ISBN
	}
	if err := writeHistoryPNG(opts.PNGPath, title, book.History.Entries); err != nil {
		return err
	}
	a.Logger.Info().
		Str("isbn", book.ISBN).
		Int("points", len(book.History.Entries)).
		Str("path", opts.PNGPath).
		Msg("price history chart written")
	return nil
}

func writeHistoryPNG(path, title string, entries []pricing.HistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	sorted := make([]pricing.HistoryEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RecordedAt.Before(sorted[j].RecordedAt)
	})

	x := make([]time.Time, len(sorted))
	prices := make([]float64, len(sorted))
	for i, entry := range sorted {
		x[i] = entry.RecordedAt
		prices[i] = entry.Price.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "$%.2f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Best sell price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Best offer",
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
