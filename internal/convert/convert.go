// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package convert turns raw driver values into the representations
// entity fields expect. Dialect-native kinds are handled here; anything
// classified KindGeneric goes to the injected fallback converter, which
// must fail loudly rather than truncate.
package convert

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relmap/relmap/metadata"
)

// Converter is the generic fallback for values the kind dispatch does
// not special-case.
type Converter interface {
	Convert(raw any, f *metadata.FieldDesc) (any, error)
}

// Value converts one raw driver value according to the field's kind.
// A nil raw value is returned unchanged.
func Value(raw any, f *metadata.FieldDesc, fallback Converter) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Kind {
	case metadata.KindUUID:
		return toUUID(raw)
	case metadata.KindTimestamp:
		return toTimestamp(raw)
	case metadata.KindJSON:
		return toText(raw)
	case metadata.KindArray:
		return toArray(raw, f.Elem, f, fallback)
	case metadata.KindBitString:
		return toBits(raw)
	case metadata.KindNetwork:
		return toNetwork(raw)
	case metadata.KindGeometric, metadata.KindRange:
		// Geometric and range values are carried in their textual form.
		return toText(raw)
	case metadata.KindDecimal:
		return toDecimal(raw)
	case metadata.KindString:
		return toText(raw)
	case metadata.KindInt:
		return toInt(raw)
	case metadata.KindFloat:
		return toFloat(raw)
	case metadata.KindBool:
		return toBool(raw)
	case metadata.KindGeneric:
		if fallback == nil {
			return nil, fmt.Errorf("no generic converter for value of type %T", raw)
		}
		return fallback.Convert(raw, f)
	default:
		return nil, fmt.Errorf("internal error: unknown value kind %s", f.Kind)
	}
}

// toUUID accepts native, string and byte forms.
func toUUID(raw any) (any, error) {
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		return uuid.Parse(string(v))
	case [16]byte:
		return uuid.UUID(v), nil
	default:
		return nil, fmt.Errorf("cannot read uuid from %T", raw)
	}
}

var timestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// toTimestamp normalises every timestamp to UTC so zoned and unzoned
// driver values compare equal.
func toTimestamp(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTimestamp(v)
	case []byte:
		return parseTimestamp(string(v))
	default:
		return nil, fmt.Errorf("cannot read timestamp from %T", raw)
	}
}

func parseTimestamp(s string) (time.Time, error) {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}

func toText(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return nil, fmt.Errorf("cannot read text from %T", raw)
	}
}

// toBits packs a bit string such as "10110" into bytes, most
// significant bit first.
func toBits(raw any) (any, error) {
	s, err := toText(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot read bit string from %T", raw)
	}
	str := s.(string)
	out := make([]byte, (len(str)+7)/8)
	for i, c := range str {
		switch c {
		case '1':
			out[i/8] |= 1 << (7 - i%8)
		case '0':
		default:
			return nil, fmt.Errorf("cannot parse bit string %q", str)
		}
	}
	return out, nil
}

// toNetwork parses inet/cidr values and returns their canonical text.
func toNetwork(raw any) (any, error) {
	s, err := toText(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot read network address from %T", raw)
	}
	str := s.(string)
	if strings.Contains(str, "/") {
		ip, ipnet, err := net.ParseCIDR(str)
		if err != nil {
			return nil, fmt.Errorf("cannot parse network address %q", str)
		}
		ones, _ := ipnet.Mask.Size()
		return fmt.Sprintf("%s/%d", ip, ones), nil
	}
	ip := net.ParseIP(str)
	if ip == nil {
		return nil, fmt.Errorf("cannot parse network address %q", str)
	}
	return ip.String(), nil
}

func toDecimal(raw any) (any, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case []byte:
		return decimal.NewFromString(string(v))
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return nil, fmt.Errorf("cannot read decimal from %T", raw)
	}
}

func toInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return nil, fmt.Errorf("cannot read integer from %T", raw)
	}
}

func toFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return nil, fmt.Errorf("cannot read float from %T", raw)
	}
}

func toBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return parseBool(v)
	case []byte:
		return parseBool(string(v))
	case int64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("cannot read bool from %T", raw)
	}
}

func parseBool(s string) (bool, error) {
	switch s {
	case "t", "T", "true", "TRUE", "1":
		return true, nil
	case "f", "F", "false", "FALSE", "0":
		return false, nil
	}
	return false, fmt.Errorf("cannot parse bool %q", s)
}
