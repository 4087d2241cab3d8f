// Package config loads the Fan-out Server's and client's runtime
// settings, per §6 "CLI (external collaborator)" and §10.3. It supports
// two on-disk formats producing the same structs: a TOML file (kept from
// the teacher's five-line os.ReadFile + go-toml/v2 unmarshal) and a flat
// key=value file matching the spec's own described format.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Server is the fan-out server's configuration, keyed by the dotted
// names listed in §6: server.port, market.num_symbols, market.tick_rate,
// market.symbols_file, fault_injection.enabled.
type Server struct {
	Server struct {
		Port int `toml:"port"`
	} `toml:"server"`
	Market struct {
		NumSymbols  int    `toml:"num_symbols"`
		TickRate    int    `toml:"tick_rate"`
		SymbolsFile string `toml:"symbols_file"`
	} `toml:"market"`
	FaultInjection struct {
		Enabled bool `toml:"enabled"`
	} `toml:"fault_injection"`
	Calibration struct {
		Enabled bool     `toml:"enabled"`
		Symbols []string `toml:"symbols"`
	} `toml:"calibration"`
}

// Client is the client CLI's configuration: host, port, and the number
// of symbols it expects the server to advertise.
type Client struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	NumSymbols int    `toml:"num_symbols"`
}

// LoadServerTOML reads and unmarshals a TOML-formatted Server config.
func LoadServerTOML(path string) (*Server, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Server
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &c, nil
}

// LoadClientTOML reads and unmarshals a TOML-formatted Client config.
func LoadClientTOML(path string) (*Client, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Client
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &c, nil
}

// ParseKV parses a flat key=value document (one assignment per line,
// '#' comments, blank lines ignored) into a Server config, recognizing
// exactly the dotted keys from §6. Unknown keys are ignored; malformed
// lines are skipped and non-numeric values keep the prior value, both
// silently (no warning is logged).
func ParseKV(r *bufio.Scanner) (*Server, error) {
	var c Server
	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)

		switch key {
		case "server.port":
			c.Server.Port = atoiOr(val, c.Server.Port)
		case "market.num_symbols":
			c.Market.NumSymbols = atoiOr(val, c.Market.NumSymbols)
		case "market.tick_rate":
			c.Market.TickRate = atoiOr(val, c.Market.TickRate)
		case "market.symbols_file":
			c.Market.SymbolsFile = val
		case "fault_injection.enabled":
			c.FaultInjection.Enabled = val == "true" || val == "1"
		case "calibration.enabled":
			c.Calibration.Enabled = val == "true" || val == "1"
		case "calibration.symbols":
			c.Calibration.Symbols = strings.Split(val, ",")
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("config: scan: %w", err)
	}
	return &c, nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
