package convert

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pgmerge/core/utils"
)

// Canonical returns a type-tagged textual form of a converted value. Two
// converted values are equal exactly when their canonical forms are equal.
func Canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "s:" + x
	case []byte:
		return "s:" + string(x)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return "f:" + strconv.FormatFloat(float64(x), 'g', -1, 32)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		i, err := utils.ToInt64(x)
		if err != nil {
			return "u:" + fmt.Sprint(x)
		}
		return "i:" + strconv.FormatInt(i, 10)
	default:
		return "v:" + fmt.Sprint(x)
	}
}

// Equal compares two converted values. NULL equals only NULL.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Canonical(a) == Canonical(b)
}

// Key builds a map key from an ordered list of converted values. Each part is
// length-prefixed so that no two distinct lists share a key.
func Key(values []any) string {
	var sb strings.Builder
	for _, v := range values {
		c := Canonical(v)
		sb.WriteString(strconv.Itoa(len(c)))
		sb.WriteByte(':')
		sb.WriteString(c)
	}
	return sb.String()
}
