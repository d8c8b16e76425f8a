// Package convert turns raw cell values into column-native typed values.
//
// Conversions are looked up per declared column type in a Registry. New types
// are supported by registering a Converter under the type name; the merge
// engine only ever calls Registry.Convert and never switches on types itself.
//
// Converted values have a small set of Go representations so that values read
// from a file and values read from the database compare equal:
//
//	integer     int64
//	numeric     string (normalized decimal, e.g. "12.5")
//	float       float64
//	bool        bool
//	date        time.Time (midnight UTC)
//	timestamp   time.Time (UTC)
//	uuid        string (lower-case canonical form)
//	json        string (compact, keys sorted)
//	text        string
package convert

import (
	"regexp"
	"strings"
	"sync"

	"pgmerge/core/schema"
)

// Converter converts one raw value into its typed representation. Raw values
// may be strings from a file or driver values read from the database.
// A nil raw value is never passed to a Converter.
type Converter interface {
	Convert(raw any) (any, error)
}

// ConverterFunc adapts a plain function to Converter.
type ConverterFunc func(raw any) (any, error)

// Convert implements Converter.
func (f ConverterFunc) Convert(raw any) (any, error) {
	return f(raw)
}

// Family names used as registry keys for the core conversions.
const (
	FamilyInteger   = "integer"
	FamilyNumeric   = "numeric"
	FamilyFloat     = "float"
	FamilyBool      = "bool"
	FamilyDate      = "date"
	FamilyTimestamp = "timestamp"
	FamilyUUID      = "uuid"
	FamilyJSON      = "json"
	FamilyText      = "text"
)

// Registry maps declared column types to converters. It is safe for
// concurrent use; a run typically builds one and shares it across tables.
type Registry struct {
	mu         sync.RWMutex
	converters map[string]Converter
}

// NewRegistry returns a registry with the core conversions registered.
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[string]Converter)}
	r.Register(FamilyInteger, ConverterFunc(toInteger))
	r.Register(FamilyNumeric, ConverterFunc(toNumeric))
	r.Register(FamilyFloat, ConverterFunc(toFloat))
	r.Register(FamilyBool, ConverterFunc(toBool))
	r.Register(FamilyDate, ConverterFunc(toDate))
	r.Register(FamilyTimestamp, ConverterFunc(toTimestamp))
	r.Register(FamilyUUID, ConverterFunc(toUUID))
	r.Register(FamilyJSON, ConverterFunc(toJSON))
	r.Register(FamilyText, ConverterFunc(toText))
	return r
}

// Register adds or replaces the converter for a type name or family.
// Names are case-insensitive.
func (r *Registry) Register(name string, c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[strings.ToLower(name)] = c
}

// Lookup returns the converter for a declared type: an exact registration for
// the base type name first, then the type's family, then text.
func (r *Registry) Lookup(declaredType string) Converter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.converters[BaseType(declaredType)]; ok {
		return c
	}
	if c, ok := r.converters[Family(declaredType)]; ok {
		return c
	}
	return r.converters[FamilyText]
}

// Convert converts a raw value for a declared type. nil converts to nil.
func (r *Registry) Convert(raw any, declaredType string) (any, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := r.Lookup(declaredType).Convert(raw)
	if err != nil {
		return nil, &ConversionError{Type: declaredType, Value: raw, Err: err}
	}
	return v, nil
}

// ConvertColumn converts a raw value for a column and enforces nullability.
func (r *Registry) ConvertColumn(col schema.Column, raw any) (any, error) {
	v, err := r.Convert(raw, col.Type)
	if err != nil {
		err.(*ConversionError).Column = col.Name
		return nil, err
	}
	if v == nil && !col.Nullable {
		return nil, &ConversionError{Column: col.Name, Type: col.Type, Value: raw, Err: errNotNullable}
	}
	return v, nil
}

// Literals returns the graph build option that converts partial-index
// literals with the registry, so "active = 1" matches a converted true.
func (r *Registry) Literals() schema.Option {
	return schema.WithLiterals(func(col schema.Column, literal string) (any, error) {
		return r.Convert(literal, col.Type)
	}, Equal)
}

var typeArgs = regexp.MustCompile(`\s*\(.*\)`)

// BaseType lower-cases a declared type and strips length/precision arguments
// and modifiers: "VARCHAR(255)" -> "varchar", "int(11) unsigned" -> "int".
// MySQL's tinyint(1) is kept intact because it is the boolean spelling.
func BaseType(declared string) string {
	t := strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(t, "tinyint(1)") {
		return "tinyint(1)"
	}
	t = typeArgs.ReplaceAllString(t, "")
	t = strings.TrimSuffix(t, " unsigned")
	t = strings.TrimSuffix(t, " zerofill")
	return strings.TrimSpace(t)
}

// Family maps a declared database type to the family of its core conversion.
// Unknown types belong to the text family.
func Family(declared string) string {
	base := BaseType(declared)
	if strings.HasSuffix(base, "[]") {
		return FamilyText
	}
	switch base {
	case "int", "integer", "int2", "int4", "int8", "smallint", "bigint", "mediumint", "tinyint",
		"serial", "serial4", "serial8", "bigserial", "smallserial", "year":
		return FamilyInteger
	case "numeric", "decimal", "dec", "fixed":
		return FamilyNumeric
	case "real", "float", "float4", "float8", "double", "double precision":
		return FamilyFloat
	case "bool", "boolean", "tinyint(1)", "bit":
		return FamilyBool
	case "date":
		return FamilyDate
	case "datetime", "timestamp", "timestamptz", "timestamp with time zone", "timestamp without time zone":
		return FamilyTimestamp
	case "uuid":
		return FamilyUUID
	case "json", "jsonb":
		return FamilyJSON
	}
	return FamilyText
}
