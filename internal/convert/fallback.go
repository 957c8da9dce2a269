// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package convert

import (
	"fmt"
	"time"

	"github.com/relmap/relmap/metadata"
)

// Default is the stock generic converter. It passes through values the
// driver already delivered in a usable representation and fails on
// anything else; it never truncates or guesses.
type Default struct{}

var _ Converter = Default{}

func (Default) Convert(raw any, f *metadata.FieldDesc) (any, error) {
	switch v := raw.(type) {
	case int64, float64, bool, string, time.Time:
		return v, nil
	case []byte:
		return string(v), nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("cannot convert %T for column %q", raw, f.Column)
	}
}
