package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseKVRecognizedKeys(t *testing.T) {
	doc := `
# a comment
server.port=9000
market.num_symbols=5
market.tick_rate=1000
market.symbols_file=symbols.csv
fault_injection.enabled=true
calibration.enabled=1
calibration.symbols=btcusdt,ethusdt

unknown.key=ignored
malformed line with no equals
`
	c, err := ParseKV(bufio.NewScanner(strings.NewReader(doc)))
	if err != nil {
		t.Fatalf("ParseKV: %v", err)
	}
	if c.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", c.Server.Port)
	}
	if c.Market.NumSymbols != 5 || c.Market.TickRate != 1000 {
		t.Errorf("Market = %+v", c.Market)
	}
	if c.Market.SymbolsFile != "symbols.csv" {
		t.Errorf("SymbolsFile = %q", c.Market.SymbolsFile)
	}
	if !c.FaultInjection.Enabled {
		t.Error("FaultInjection.Enabled = false")
	}
	if !c.Calibration.Enabled {
		t.Error("Calibration.Enabled = false")
	}
	if len(c.Calibration.Symbols) != 2 || c.Calibration.Symbols[0] != "btcusdt" {
		t.Errorf("Calibration.Symbols = %v", c.Calibration.Symbols)
	}
}

func TestParseKVMalformedValueKeepsPriorDefault(t *testing.T) {
	doc := "market.num_symbols=not-a-number\n"
	c, err := ParseKV(bufio.NewScanner(strings.NewReader(doc)))
	if err != nil {
		t.Fatalf("ParseKV: %v", err)
	}
	if c.Market.NumSymbols != 0 {
		t.Errorf("NumSymbols = %d, want 0 (default retained)", c.Market.NumSymbols)
	}
}

func TestLoadServerTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	doc := `
[server]
port = 9000

[market]
num_symbols = 3
tick_rate = 500
symbols_file = "symbols.csv"

[fault_injection]
enabled = true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := LoadServerTOML(path)
	if err != nil {
		t.Fatalf("LoadServerTOML: %v", err)
	}
	if c.Server.Port != 9000 || c.Market.NumSymbols != 3 || !c.FaultInjection.Enabled {
		t.Errorf("c = %+v", c)
	}
}

func TestLoadServerTOMLMissingFile(t *testing.T) {
	if _, err := LoadServerTOML("/nonexistent/path.toml"); err == nil {
		t.Error("expected an error for a missing file")
	}
}
