package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/99designs/gqlgen/graphql"
	"github.com/shopspring/decimal"
)

func MarshalDecimal(d decimal.Decimal) graphql.Marshaler {
	return graphql.WriterFunc(func(w io.Writer) {
		w.Write([]byte(d.String()))
	})
}

func UnmarshalDecimal(i interface{}) (decimal.Decimal, error) {
	switch v := i.(type) {
	case string:
		// Accept user-formatted amounts such as "20,000", "COP 20,000",
		// "USD -1,234.50" or "$ 99". Only digits, '.' and a leading '-' are kept.
		s := strings.TrimSpace(v)
		neg := false
		var b strings.Builder
		b.Grow(len(s))
		for _, r := range s {
			switch {
			case r >= '0' && r <= '9', r == '.':
				b.WriteRune(r)
			case r == '-' && b.Len() == 0:
				neg = true
			case r == ',', r == '$', unicode.IsSpace(r), unicode.IsLetter(r):
			default:
				return decimal.Zero, fmt.Errorf("invalid decimal %q", v)
			}
		}
		clean := b.String()
		if clean == "" {
			return decimal.Zero, fmt.Errorf("invalid decimal %q", v)
		}
		if neg {
			clean = "-" + clean
		}
		return decimal.NewFromString(clean)
	case json.Number:
		return decimal.NewFromString(v.String())
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("invalid decimal %v", i)
	}
}
