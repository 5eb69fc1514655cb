// Command replay rebuilds the ledger from a persisted trade log and prints
// the derived reports, verifying offline that replaying the log reproduces a
// consistent portfolio.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/traderlab/papertrade/internal/ledger"
	"github.com/traderlab/papertrade/internal/quotes"
	"github.com/traderlab/papertrade/internal/report"
	"github.com/traderlab/papertrade/internal/tradelog"
)

func main() {
	var (
		dbPath      = flag.String("db", "data/tradelog.db", "trade log database")
		initialCash = flag.Float64("cash", 100000, "initial cash the log started from")
	)
	flag.Parse()

	if err := run(*dbPath, *initialCash); err != nil {
		fmt.Fprintln(os.Stderr, "replay failed:", err)
		os.Exit(1)
	}
}

func run(dbPath string, initialCash float64) error {
	store, err := tradelog.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	trades, err := store.TradesAsc(ctx)
	if err != nil {
		return err
	}

	l, err := ledger.Replay(initialCash, trades)
	if err != nil {
		return err
	}
	curve, err := report.RebuildCurve(initialCash, trades)
	if err != nil {
		return err
	}

	// mark each symbol at its most recent trade price, same as the curve
	marks := make(map[string]*quotes.Quote)
	for i := range trades {
		t := trades[i]
		marks[t.Symbol] = &quotes.Quote{Symbol: t.Symbol, Price: t.Price, Timestamp: t.Timestamp}
	}

	alerts, err := store.Alerts(ctx, 100)
	if err != nil {
		return err
	}

	out := struct {
		Snapshot  ledger.Snapshot  `json:"snapshot"`
		Execution report.Execution `json:"execution_report"`
		Risk      report.Risk      `json:"risk_report"`
	}{
		Snapshot:  l.Snapshot(marks),
		Execution: report.BuildExecution(trades, curve),
		Risk:      report.BuildRisk(l.Snapshot(marks), marks, alerts),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
