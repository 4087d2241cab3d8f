// Package catalog loads the symbol catalog CSV described in §6: a
// header row `symbol_id,symbol,price,volatility,drift` followed by one
// row per symbol. Rows with an out-of-range id or a malformed numeric
// field are skipped with a warning, per §7's "Config parse: malformed
// CSV row → skip row, warn" policy.
//
// No third-party CSV library appears anywhere in the retrieved example
// pack (grepped across every repo's imports), so this is the one place
// this repo knowingly stays on the standard library's encoding/csv —
// recorded in DESIGN.md.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/arcrelay/tickfan/tickengine"
)

var header = []string{"symbol_id", "symbol", "price", "volatility", "drift"}

// Load reads path as a symbol catalog CSV and returns one *Symbol per
// valid row, in file order. numSymbols bounds which symbol_id values
// are accepted (§3 "Symbol … identifier (16-bit unsigned) … loaded from
// an external catalog at startup"); rows outside [0, numSymbols) are
// skipped with a warning rather than failing the whole load.
func Load(path string, numSymbols int) ([]*tickengine.Symbol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("catalog: read header: %w", err)
	}
	if !equalHeader(head) {
		return nil, fmt.Errorf("catalog: unexpected header %v, want %v", head, header)
	}

	var symbols []*tickengine.Symbol
	row := 1
	for {
		rec, err := r.Read()
		row++
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("catalog: row %d: skipping malformed row: %v", row, err)
			continue
		}

		sym, ok := parseRow(rec, numSymbols, row)
		if !ok {
			continue
		}
		symbols = append(symbols, sym)
	}
	return symbols, nil
}

func equalHeader(got []string) bool {
	if len(got) != len(header) {
		return false
	}
	for i, h := range header {
		if got[i] != h {
			return false
		}
	}
	return true
}

func parseRow(rec []string, numSymbols, row int) (*tickengine.Symbol, bool) {
	if len(rec) != 5 {
		log.Printf("catalog: row %d: expected 5 fields, got %d, skipping", row, len(rec))
		return nil, false
	}

	id, err := strconv.ParseUint(rec[0], 10, 16)
	if err != nil {
		log.Printf("catalog: row %d: bad symbol_id %q, skipping", row, rec[0])
		return nil, false
	}
	if int(id) >= numSymbols {
		log.Printf("catalog: row %d: symbol_id %d out of range [0,%d), skipping", row, id, numSymbols)
		return nil, false
	}

	price, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		log.Printf("catalog: row %d: bad price %q, skipping", row, rec[2])
		return nil, false
	}
	volatility, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		log.Printf("catalog: row %d: bad volatility %q, skipping", row, rec[3])
		return nil, false
	}
	drift, err := strconv.ParseFloat(rec[4], 64)
	if err != nil {
		log.Printf("catalog: row %d: bad drift %q, skipping", row, rec[4])
		return nil, false
	}

	return tickengine.NewSymbol(uint16(id), rec[1], price, drift, volatility), true
}
