package convert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pgmerge/core/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

var errNotNullable = errors.New("NULL is not allowed")

// numericRegex validates a decimal literal after trimming.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

var (
	dateLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02", "20060102",
		"1/2/2006", "01/02/2006", "Jan 2, 2006", "2 Jan 2006",
	}
	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999-07",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// blank reports whether a textual raw value is empty. For every family
// except text an empty cell means NULL.
func blank(raw any) bool {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case []byte:
		return len(bytes.TrimSpace(v)) == 0
	}
	return false
}

func toInteger(raw any) (any, error) {
	if blank(raw) {
		return nil, nil
	}
	return utils.ToInt64(raw)
}

func toFloat(raw any) (any, error) {
	if blank(raw) {
		return nil, nil
	}
	return utils.ToFloat64(raw)
}

func toBool(raw any) (any, error) {
	if blank(raw) {
		return nil, nil
	}
	return utils.ToBool(raw)
}

func toText(raw any) (any, error) {
	return utils.ToString(raw), nil
}

// toNumeric parses through pgtype.Numeric and renders the shortest exact
// decimal, so "1.50", "1.5" and 1.5 all become "1.5".
func toNumeric(raw any) (any, error) {
	if blank(raw) {
		return nil, nil
	}

	var s string
	switch v := raw.(type) {
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case pgtype.Numeric:
		return renderNumeric(v)
	default:
		if i, err := utils.ToInt64(v); err == nil {
			if _, isText := v.(string); !isText {
				return strconv.FormatInt(i, 10), nil
			}
		}
		s = strings.TrimSpace(utils.ToString(v))
	}

	if strings.EqualFold(s, "nan") {
		return "NaN", nil
	}
	if !numericRegex.MatchString(s) {
		return nil, fmt.Errorf("%q is not a decimal number", s)
	}
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return nil, err
	}
	return renderNumeric(n)
}

func renderNumeric(n pgtype.Numeric) (any, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.NaN {
		return "NaN", nil
	}
	switch n.InfinityModifier {
	case pgtype.Infinity:
		return "Infinity", nil
	case pgtype.NegativeInfinity:
		return "-Infinity", nil
	}

	if n.Int == nil {
		return "0", nil
	}
	digits := new(big.Int).Set(n.Int)
	exp := int(n.Exp)
	if digits.Sign() == 0 {
		return "0", nil
	}

	ten := big.NewInt(10)
	rem := new(big.Int)
	for exp < 0 {
		q, r := new(big.Int).QuoRem(digits, ten, rem)
		if r.Sign() != 0 {
			break
		}
		digits = q
		exp++
	}

	neg := digits.Sign() < 0
	text := new(big.Int).Abs(digits).String()
	if exp >= 0 {
		text += strings.Repeat("0", exp)
	} else {
		scale := -exp
		if len(text) <= scale {
			text = strings.Repeat("0", scale-len(text)+1) + text
		}
		text = text[:len(text)-scale] + "." + text[len(text)-scale:]
	}
	if neg {
		text = "-" + text
	}
	return text, nil
}

func toDate(raw any) (any, error) {
	if blank(raw) {
		return nil, nil
	}
	t, err := parseTime(raw, dateLayouts)
	if err != nil {
		// Drivers sometimes hand dates back as full timestamps.
		if t, err = parseTime(raw, timestampLayouts); err != nil {
			return nil, err
		}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func toTimestamp(raw any) (any, error) {
	if blank(raw) {
		return nil, nil
	}
	t, err := parseTime(raw, timestampLayouts)
	if err != nil {
		return nil, err
	}
	return t.UTC(), nil
}

func parseTime(raw any, layouts []string) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case pgtype.Date:
		return v.Time, nil
	case pgtype.Timestamptz:
		return v.Time, nil
	case pgtype.Timestamp:
		return v.Time, nil
	}

	s := strings.TrimSpace(utils.ToString(raw))
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a recognised date or time", s)
}

func toUUID(raw any) (any, error) {
	if blank(raw) {
		return nil, nil
	}
	switch v := raw.(type) {
	case uuid.UUID:
		return v.String(), nil
	case [16]byte:
		return uuid.UUID(v).String(), nil
	case pgtype.UUID:
		if !v.Valid {
			return nil, nil
		}
		return uuid.UUID(v.Bytes).String(), nil
	case []byte:
		if len(v) == 16 {
			return uuid.UUID(v).String(), nil
		}
	}
	id, err := uuid.Parse(strings.TrimSpace(utils.ToString(raw)))
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

// toJSON compacts a document and sorts object keys by round-tripping it
// through a generic value.
func toJSON(raw any) (any, error) {
	if blank(raw) {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal([]byte(utils.ToString(raw)), &doc); err != nil {
		return nil, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}
