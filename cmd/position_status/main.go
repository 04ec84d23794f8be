// position_status prints a point-in-time view of the accounting engine:
// the open-lot stack from the state snapshot and the cumulative realized
// P&L from the output CSV. It only reads, so it runs safely next to a
// live engine.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"pnl_monitor/internal/config"
	"pnl_monitor/internal/state"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	statePath  = flag.String("state", "", "State snapshot path (overrides config)")
	outputPath = flag.String("output", "", "Realized P&L CSV path (overrides config)")
)

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	// Config is optional here when both paths are given explicitly.
	if *statePath == "" || *outputPath == "" {
		cfg, err := config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration %s: %v\n", *configFile, err)
			os.Exit(1)
		}
		if *statePath == "" {
			*statePath = cfg.Storage.StatePath
		}
		if *outputPath == "" {
			*outputPath = cfg.Engine.OutputPath
		}
	}

	st, err := state.ReadSnapshot(*statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read state snapshot %s: %v\n", *statePath, err)
		os.Exit(1)
	}

	if st == nil {
		fmt.Println("No checkpoint yet: the engine has not processed any fills.")
	} else {
		fmt.Printf("Checkpoint:     %s (log rows applied: %d)\n",
			st.UpdatedAt.Format(time.RFC3339), st.LastProcessedOffset)
		fmt.Printf("Net position:   %s\n", st.PositionStack.NetPosition())
		fmt.Printf("Open lots:      %d\n", st.PositionStack.Depth())
		for i, lot := range st.PositionStack {
			fmt.Printf("  [%d] %s @ %s\n", i, lot.Quantity, lot.Price)
		}
	}

	total, records, err := sumRealizedPnL(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read realized P&L %s: %v\n", *outputPath, err)
		os.Exit(1)
	}
	fmt.Printf("Realized P&L:   %s over %d records\n", total, records)
}

// sumRealizedPnL totals the RealisedPnL column of the output CSV. A
// missing file means the engine has not emitted anything yet.
func sumRealizedPnL(path string) (decimal.Decimal, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return decimal.Zero, 0, nil
		}
		return decimal.Zero, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	total := decimal.Zero
	records := 0
	header := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return decimal.Zero, 0, err
		}
		if header {
			header = false
			continue
		}
		if len(row) < 4 {
			continue
		}
		v, err := decimal.NewFromString(row[3])
		if err != nil {
			continue
		}
		total = total.Add(v)
		records++
	}
	return total, records, nil
}
