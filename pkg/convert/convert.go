// Package convert normalizes venue-specific market data and account payloads
// into the canonical types of pkg/exchanges/common. Each venue gets one
// Converter; REST and websocket paths share the same parse functions.
package convert

import (
	"encoding/json"
	"fmt"
	"strconv"

	"quantdesk/pkg/exchanges/common"
)

// Converter converts one venue's raw payloads into canonical types.
type Converter interface {
	Exchange() common.Name
	ParseTicker(raw json.RawMessage) (common.Ticker, error)
	ParseKline(raw json.RawMessage) (common.Kline, error)
	ParseOrder(raw json.RawMessage) (common.Order, error)
	ParseBalances(raw json.RawMessage) ([]common.Balance, error)
	ParsePositions(raw json.RawMessage) ([]common.Position, error)
	NormalizeSymbol(symbol string) string
	DenormalizeSymbol(symbol string) string
}

// ConversionError reports a payload that could not be normalized, carrying the
// offending field and, when available, its raw value.
type ConversionError struct {
	Exchange common.Name
	Field    string
	Value    string
	Msg      string
}

func (e *ConversionError) Error() string {
	switch {
	case e.Field != "" && e.Value != "":
		return fmt.Sprintf("%s convert: field %q has invalid value %q: %s", e.Exchange, e.Field, e.Value, e.Msg)
	case e.Field != "":
		return fmt.Sprintf("%s convert: field %q: %s", e.Exchange, e.Field, e.Msg)
	default:
		return fmt.Sprintf("%s convert: %s", e.Exchange, e.Msg)
	}
}

func missingField(ex common.Name, field string) error {
	return &ConversionError{Exchange: ex, Field: field, Msg: "missing field"}
}

func invalidValue(ex common.Name, field, value string) error {
	return &ConversionError{Exchange: ex, Field: field, Value: value, Msg: "cannot parse"}
}

// decodeObject unmarshals raw into a generic map, reporting a ConversionError
// on malformed JSON.
func decodeObject(ex common.Name, raw json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ConversionError{Exchange: ex, Msg: "invalid json: " + err.Error()}
	}
	return m, nil
}

func getField(ex common.Name, m map[string]any, field string) (any, error) {
	v, ok := m[field]
	if !ok || v == nil {
		return nil, missingField(ex, field)
	}
	return v, nil
}

// getString returns a string field; missing or non-string is an error.
func getString(ex common.Name, m map[string]any, field string) (string, error) {
	v, err := getField(ex, m, field)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidValue(ex, field, fmt.Sprint(v))
	}
	return s, nil
}

// getFloat accepts both JSON numbers and numeric strings, which exchanges mix
// freely even within one payload.
func getFloat(ex common.Name, m map[string]any, field string) (float64, error) {
	v, err := getField(ex, m, field)
	if err != nil {
		return 0, err
	}
	return toFloat(ex, field, v)
}

// getFloatOr returns def when the field is absent, but still rejects present
// unparsable values.
func getFloatOr(ex common.Name, m map[string]any, field string, def float64) (float64, error) {
	v, ok := m[field]
	if !ok || v == nil {
		return def, nil
	}
	if s, isStr := v.(string); isStr && s == "" {
		return def, nil
	}
	return toFloat(ex, field, v)
}

// getInt accepts JSON numbers and numeric strings.
func getInt(ex common.Name, m map[string]any, field string) (int64, error) {
	v, err := getField(ex, m, field)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, invalidValue(ex, field, t)
		}
		return n, nil
	default:
		return 0, invalidValue(ex, field, fmt.Sprint(v))
	}
}

// getIntOr returns def when the field is absent or empty.
func getIntOr(ex common.Name, m map[string]any, field string, def int64) (int64, error) {
	v, ok := m[field]
	if !ok || v == nil {
		return def, nil
	}
	if s, isStr := v.(string); isStr && s == "" {
		return def, nil
	}
	return getInt(ex, m, field)
}

func toFloat(ex common.Name, field string, v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, invalidValue(ex, field, t)
		}
		return f, nil
	default:
		return 0, invalidValue(ex, field, fmt.Sprint(v))
	}
}

// arrayFloat parses element i of a row-style payload (REST kline rows).
func arrayFloat(ex common.Name, row []any, i int, field string) (float64, error) {
	if i >= len(row) {
		return 0, missingField(ex, field)
	}
	return toFloat(ex, field, row[i])
}

func arrayInt(ex common.Name, row []any, i int, field string) (int64, error) {
	f, err := arrayFloat(ex, row, i, field)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// millennium in Unix milliseconds; anything below it is a seconds timestamp.
const msEpochFloor = 946_684_800_000

// NormalizeTimestamp converts second-resolution timestamps to milliseconds.
func NormalizeTimestamp(ts int64) int64 {
	if ts > 0 && ts < msEpochFloor {
		return ts * 1000
	}
	return ts
}
