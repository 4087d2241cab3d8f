// Command server runs the Fan-out Server (§6 CLI): `server port
// [num_symbols]`.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/arcrelay/tickfan/calibration"
	"github.com/arcrelay/tickfan/catalog"
	"github.com/arcrelay/tickfan/config"
	"github.com/arcrelay/tickfan/fanout"
	"github.com/arcrelay/tickfan/tickengine"
)

const defaultNumSymbols = 10

func main() {
	log.Println("🐙 tickfan server starting...")
	godotenv.Load() // best-effort; absence is not an error

	port, numSymbols, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("usage: server port [num_symbols]: %v", err)
	}

	var cfg config.Server
	if path := os.Getenv("TICKFAN_CONFIG"); path != "" {
		loaded, err := config.LoadServerTOML(path)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = *loaded
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if numSymbols != 0 {
		cfg.Market.NumSymbols = numSymbols
	}
	if cfg.Market.NumSymbols == 0 {
		cfg.Market.NumSymbols = defaultNumSymbols
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	symbols := loadSymbols(cfg)
	if cfg.Calibration.Enabled && len(cfg.Calibration.Symbols) > 0 {
		applyCalibration(ctx, cfg, symbols)
	}

	srv := fanout.New(fanout.Config{
		Port:           cfg.Server.Port,
		TickRate:       cfg.Market.TickRate,
		FaultInjection: cfg.FaultInjection.Enabled,
	}, symbols)

	if err := srv.Start(); err != nil {
		log.Fatalf("fanout: %v", err)
	}

	go srv.RunTickLoop(ctx)

	log.Printf("📡 serving %d symbols on port %d", len(symbols), cfg.Server.Port)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("fanout: %v", err)
	}

	srv.Stop()
	log.Println("👋 server stopped.")
}

func parseArgs(args []string) (port, numSymbols int, err error) {
	if len(args) < 1 {
		return 0, 0, fmt.Errorf("missing port")
	}
	port, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad port %q: %w", args[0], err)
	}
	if len(args) >= 2 {
		numSymbols, err = strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, fmt.Errorf("bad num_symbols %q: %w", args[1], err)
		}
	}
	return port, numSymbols, nil
}

func loadSymbols(cfg config.Server) []*tickengine.Symbol {
	if cfg.Market.SymbolsFile != "" {
		symbols, err := catalog.Load(cfg.Market.SymbolsFile, cfg.Market.NumSymbols)
		if err != nil {
			log.Fatalf("catalog: %v", err)
		}
		if len(symbols) > 0 {
			return symbols
		}
		log.Printf("catalog: %s loaded no usable rows, falling back to defaults", cfg.Market.SymbolsFile)
	}

	symbols := make([]*tickengine.Symbol, cfg.Market.NumSymbols)
	for i := range symbols {
		symbols[i] = tickengine.NewSymbol(uint16(i), fmt.Sprintf("SYM%d", i), 100, 0, 0.2)
	}
	return symbols
}

// applyCalibration seeds the first len(cfg.Calibration.Symbols) symbols'
// starting price from a short-lived Binance bookTicker listen, per
// §11.3. It is a startup-only adjustment — calibration.Feed never runs
// again once this returns.
func applyCalibration(ctx context.Context, cfg config.Server, symbols []*tickengine.Symbol) {
	log.Printf("🔌 calibrating %v against Binance bookTicker...", cfg.Calibration.Symbols)
	feed := calibration.NewFeed(cfg.Calibration.Symbols)
	quotes := calibration.SeedOnce(ctx, feed, len(cfg.Calibration.Symbols), 5*time.Second)

	for i, q := range quotes {
		if i >= len(symbols) {
			break
		}
		symbols[i].Price = (q.Bid + q.Ask) / 2
	}
	log.Printf("📊 calibration seeded %d/%d symbols", len(quotes), len(cfg.Calibration.Symbols))
}
