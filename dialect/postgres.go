// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Postgres is the PostgreSQL Sanitizer. Quoting and string escaping are
// delegated to lib/pq.
type Postgres struct{}

var _ Sanitizer = Postgres{}

func (Postgres) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (Postgres) QuoteLiteral(s string) string {
	return pq.QuoteLiteral(s)
}

// EscapeLikePattern backslash-escapes %, _ and the escape character
// itself so the pattern matches s verbatim.
func (Postgres) EscapeLikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (p Postgres) FormatValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return p.QuoteLiteral(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case time.Time:
		return p.QuoteLiteral(val.UTC().Format("2006-01-02 15:04:05.999999-07")) + "::timestamptz", nil
	case time.Duration:
		return fmt.Sprintf("INTERVAL '%f seconds'", val.Seconds()), nil
	case uuid.UUID:
		return p.QuoteLiteral(val.String()) + "::uuid", nil
	case decimal.Decimal:
		return val.String(), nil
	case []byte:
		return `'\x` + fmt.Sprintf("%x", val) + `'::bytea`, nil
	case []string:
		return p.formatArray(len(val), func(i int) any { return val[i] })
	case []int:
		return p.formatArray(len(val), func(i int) any { return val[i] })
	case []int64:
		return p.formatArray(len(val), func(i int) any { return val[i] })
	case []float64:
		return p.formatArray(len(val), func(i int) any { return val[i] })
	case []any:
		return p.formatArray(len(val), func(i int) any { return val[i] })
	default:
		return "", fmt.Errorf("cannot format literal of type %T", v)
	}
}

func (p Postgres) formatArray(n int, at func(int) any) (string, error) {
	elems := make([]string, n)
	for i := 0; i < n; i++ {
		s, err := p.FormatValue(at(i))
		if err != nil {
			return "", err
		}
		elems[i] = s
	}
	return "ARRAY[" + strings.Join(elems, ", ") + "]", nil
}

func (Postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (Postgres) Now() string { return "NOW()" }

func (Postgres) Concat(a, b string) string { return a + " || " + b }

func (Postgres) LikeOperator(fold bool) string {
	if fold {
		return "ILIKE"
	}
	return "LIKE"
}
