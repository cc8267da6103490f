package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/safetradelab/candle-collector/internal/config"
	"github.com/safetradelab/candle-collector/internal/database"
	"github.com/safetradelab/candle-collector/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/collector.local.yaml", "path to config file")
	symbol := flag.String("symbol", "", "delete all candles for this symbol")
	all := flag.Bool("all", false, "delete every candle")
	olderThan := flag.Duration("older-than", 0, "delete candles older than this duration (e.g. 4320h)")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	modes := 0
	for _, set := range []bool{*symbol != "", *all, *olderThan > 0} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "specify exactly one of -symbol, -all, or -older-than")
		os.Exit(2)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer pool.Close()

	candleStore := store.New(pool, logger)

	var what string
	switch {
	case *all:
		what = "ALL candles"
	case *symbol != "":
		what = fmt.Sprintf("all candles for %s", *symbol)
	default:
		what = fmt.Sprintf("candles older than %s", *olderThan)
	}

	if !*yes && !confirm(what) {
		fmt.Println("aborted")
		return
	}

	var n int64
	switch {
	case *all:
		n, err = candleStore.DeleteAll(ctx)
	case *symbol != "":
		n, err = candleStore.DeleteSymbol(ctx, *symbol)
	default:
		n, err = candleStore.Prune(ctx, time.Now().Add(-*olderThan))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "delete:", err)
		os.Exit(1)
	}

	fmt.Printf("deleted %d candles\n", n)
}

func confirm(what string) bool {
	fmt.Printf("about to delete %s. type 'yes' to continue: ", what)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
