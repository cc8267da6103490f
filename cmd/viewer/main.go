package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/safetradelab/candle-collector/internal/config"
	"github.com/safetradelab/candle-collector/internal/database"
	"github.com/safetradelab/candle-collector/internal/model"
	"github.com/safetradelab/candle-collector/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/collector.local.yaml", "path to config file")
	symbol := flag.String("symbol", "", "show recent candles for this symbol instead of the summary")
	timeframe := flag.String("timeframe", "", "timeframe for -symbol (defaults to the configured one)")
	limit := flag.Int("limit", 20, "number of recent candles to show")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer pool.Close()

	candleStore := store.New(pool, logger)

	if *symbol == "" {
		if err := printSummary(ctx, candleStore); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	tfLabel := *timeframe
	if tfLabel == "" {
		tfLabel = cfg.Collection.Timeframe
	}
	tf, err := model.ParseTimeframe(tfLabel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := printRecent(ctx, candleStore, *symbol, tf, *limit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printSummary(ctx context.Context, s *store.Store) error {
	summary, err := s.Summary(ctx)
	if err != nil {
		return err
	}
	if len(summary) == 0 {
		fmt.Println("no candles stored")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTF\tCOUNT\tOLDEST\tNEWEST")
	for _, row := range summary {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			row.Symbol, row.Timeframe, row.Count,
			row.Oldest.Format(time.RFC3339), row.Newest.Format(time.RFC3339))
	}
	return w.Flush()
}

func printRecent(ctx context.Context, s *store.Store, symbol string, tf model.Timeframe, limit int) error {
	candles, err := s.Recent(ctx, symbol, tf, limit)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		fmt.Printf("no candles for %s/%s\n", symbol, tf)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPEN TIME\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	for _, c := range candles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.OpenTime.Format(time.RFC3339),
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return w.Flush()
}
