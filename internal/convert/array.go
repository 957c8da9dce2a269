// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package convert

import (
	"fmt"
	"strings"

	"github.com/relmap/relmap/metadata"
)

// toArray converts an array value element-wise, recursing into nested
// arrays. Drivers hand arrays over either decoded ([]any and friends) or
// as Postgres array text ("{1,2,3}", "{{a,b},{c,d}}").
func toArray(raw any, elem metadata.Kind, f *metadata.FieldDesc, fallback Converter) (any, error) {
	switch v := raw.(type) {
	case []any:
		return convertElems(v, elem, f, fallback)
	case []int64:
		anyElems := make([]any, len(v))
		for i, e := range v {
			anyElems[i] = e
		}
		return convertElems(anyElems, elem, f, fallback)
	case []string:
		anyElems := make([]any, len(v))
		for i, e := range v {
			anyElems[i] = e
		}
		return convertElems(anyElems, elem, f, fallback)
	case []byte:
		return parseTextArray(string(v), elem, f, fallback)
	case string:
		return parseTextArray(v, elem, f, fallback)
	default:
		return nil, fmt.Errorf("cannot read array from %T", raw)
	}
}

func convertElems(elems []any, elem metadata.Kind, f *metadata.FieldDesc, fallback Converter) ([]any, error) {
	out := make([]any, len(elems))
	for i, e := range elems {
		if e == nil {
			continue
		}
		if nested, ok := e.([]any); ok {
			converted, err := convertElems(nested, elem, f, fallback)
			if err != nil {
				return nil, err
			}
			out[i] = converted
			continue
		}
		elemField := &metadata.FieldDesc{Column: f.Column, Name: f.Name, Kind: elem}
		converted, err := Value(e, elemField, fallback)
		if err != nil {
			return nil, err
		}
		out[i] = converted
	}
	return out, nil
}

// parseTextArray decodes the Postgres array text format, including
// nesting, quoted elements and NULL, then converts element-wise.
func parseTextArray(s string, elem metadata.Kind, f *metadata.FieldDesc, fallback Converter) (any, error) {
	s = strings.TrimSpace(s)
	elems, rest, err := parseArrayBody(s)
	if err != nil {
		return nil, fmt.Errorf("cannot parse array %q: %s", s, err)
	}
	if strings.TrimSpace(rest) != "" {
		return nil, fmt.Errorf("cannot parse array %q: trailing input", s)
	}
	return convertElems(elems, elem, f, fallback)
}

// parseArrayBody consumes one {...} group and returns the remainder of
// the input.
func parseArrayBody(s string) ([]any, string, error) {
	if len(s) == 0 || s[0] != '{' {
		return nil, s, fmt.Errorf("expected '{'")
	}
	s = s[1:]
	var elems []any
	for {
		s = strings.TrimLeft(s, " ")
		if len(s) == 0 {
			return nil, s, fmt.Errorf("unterminated array")
		}
		switch s[0] {
		case '}':
			return elems, s[1:], nil
		case ',':
			s = s[1:]
		case '{':
			nested, rest, err := parseArrayBody(s)
			if err != nil {
				return nil, s, err
			}
			elems = append(elems, nested)
			s = rest
		case '"':
			val, rest, err := parseQuotedElem(s)
			if err != nil {
				return nil, s, err
			}
			elems = append(elems, val)
			s = rest
		default:
			end := strings.IndexAny(s, ",}")
			if end < 0 {
				return nil, s, fmt.Errorf("unterminated element")
			}
			raw := strings.TrimSpace(s[:end])
			if raw == "NULL" {
				elems = append(elems, nil)
			} else if raw != "" {
				elems = append(elems, raw)
			}
			s = s[end:]
		}
	}
}

func parseQuotedElem(s string) (string, string, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
			if i == len(s) {
				return "", s, fmt.Errorf("unterminated escape")
			}
			b.WriteByte(s[i])
		case '"':
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(s[i])
		}
	}
	return "", s, fmt.Errorf("unterminated quoted element")
}
