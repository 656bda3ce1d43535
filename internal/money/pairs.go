package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PairTable maps a currency pair to a decimal value, e.g. a fallback fee
// percentage or a fallback exchange rate.
type PairTable map[string]decimal.Decimal

func pairKey(from, to string) string {
	return strings.ToUpper(strings.TrimSpace(from)) + ":" + strings.ToUpper(strings.TrimSpace(to))
}

// ParsePairTable reads "FROM:TO=VALUE" entries separated by commas.
func ParsePairTable(raw string) (PairTable, error) {
	table := make(PairTable)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("pair entry %q: missing '='", entry)
		}
		from, to, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			return nil, fmt.Errorf("pair entry %q: expected FROM:TO", entry)
		}
		d, err := Parse(value)
		if err != nil {
			return nil, fmt.Errorf("pair entry %q: %w", entry, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("pair entry %q: negative value", entry)
		}
		table[pairKey(from, to)] = d
	}
	return table, nil
}

// Lookup returns the value stored for the pair.
func (t PairTable) Lookup(from, to string) (decimal.Decimal, bool) {
	d, ok := t[pairKey(from, to)]
	return d, ok
}
