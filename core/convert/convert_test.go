package convert

import (
	"errors"
	"testing"
	"time"

	"pgmerge/core/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamily(t *testing.T) {
	tests := []struct {
		declared string
		want     string
	}{
		{"INTEGER", FamilyInteger},
		{"int(11) unsigned", FamilyInteger},
		{"bigserial", FamilyInteger},
		{"tinyint(1)", FamilyBool},
		{"tinyint(4)", FamilyInteger},
		{"numeric(10,2)", FamilyNumeric},
		{"double precision", FamilyFloat},
		{"boolean", FamilyBool},
		{"date", FamilyDate},
		{"timestamp(6) with time zone", FamilyTimestamp},
		{"datetime", FamilyTimestamp},
		{"uuid", FamilyUUID},
		{"jsonb", FamilyJSON},
		{"character varying(255)", FamilyText},
		{"integer[]", FamilyText},
		{"interval", FamilyText},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			assert.Equal(t, tt.want, Family(tt.declared))
		})
	}
}

func TestRegistry_Convert(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name     string
		raw      any
		declared string
		want     any
	}{
		{"integer from text", " 42 ", "int4", int64(42)},
		{"integer from driver", int32(7), "integer", int64(7)},
		{"integer blank is null", "", "bigint", nil},
		{"numeric trailing zeros", "1.50", "numeric(10,2)", "1.5"},
		{"numeric from float", 2.25, "decimal", "2.25"},
		{"numeric integral", "100", "numeric", "100"},
		{"numeric small", "0.05", "numeric", "0.05"},
		{"numeric negative", "-3.10", "numeric", "-3.1"},
		{"float", "1.25", "real", 1.25},
		{"bool yes", "yes", "boolean", true},
		{"bool mysql", int64(0), "tinyint(1)", false},
		{"date iso", "2024-03-05", "date", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"date from timestamp", time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC), "date", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"timestamp with zone", "2024-03-05T10:00:00+02:00", "timestamptz", time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)},
		{"timestamp plain", "2024-03-05 10:00:00", "timestamp", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)},
		{"uuid upper", "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", "uuid", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"uuid bytes", uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), "uuid", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"json compact", `{ "b": 1, "a": [1, 2] }`, "jsonb", `{"a":[1,2],"b":1}`},
		{"text keeps blank", "", "varchar(10)", ""},
		{"text from bytes", []byte("hi"), "text", "hi"},
		{"unknown type is text", "x", "tsvector", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Convert(tt.raw, tt.declared)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_ConvertErrors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Convert("abc", "integer")
	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "integer", convErr.Type)

	_, err = r.Convert("maybe", "bool")
	assert.Error(t, err)

	_, err = r.Convert("1,5", "numeric")
	assert.Error(t, err)

	col := schema.Column{Name: "qty", Type: "integer", Nullable: false}
	_, err = r.ConvertColumn(col, nil)
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "qty", convErr.Column)

	_, err = r.ConvertColumn(col, "x")
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "qty", convErr.Column)
	assert.Contains(t, err.Error(), "column qty")
}

// TestRegistry_Register tests that an exact type registration wins over its family.
func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register("citext", ConverterFunc(func(raw any) (any, error) {
		return "ci:" + raw.(string), nil
	}))

	got, err := r.Convert("Hello", "CITEXT")
	require.NoError(t, err)
	assert.Equal(t, "ci:Hello", got)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, ""))
	assert.True(t, Equal(int64(3), 3))
	assert.False(t, Equal(int64(3), "3"))
	assert.True(t, Equal(time.Date(2024, 1, 1, 2, 0, 0, 0, time.FixedZone("x", 7200)), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	assert.NotEqual(t, Key([]any{"a:b", "c"}), Key([]any{"a", "b:c"}))
	assert.Equal(t, Key([]any{int64(1), "x"}), Key([]any{1, "x"}))
}

func TestTransforms(t *testing.T) {
	t.Run("concat", func(t *testing.T) {
		tr := Concat("full_name", " ", []string{"first", "last"}, "name")
		out, err := tr.Apply([]any{"Ada", "Lovelace"})
		require.NoError(t, err)
		assert.Equal(t, []any{"Ada Lovelace"}, out)

		out, err = tr.Apply([]any{nil, nil})
		require.NoError(t, err)
		assert.Equal(t, []any{nil}, out)
	})

	t.Run("split", func(t *testing.T) {
		tr := Split("name_parts", " ", "name", []string{"first", "last"})
		out, err := tr.Apply([]any{"Ada Lovelace"})
		require.NoError(t, err)
		assert.Equal(t, []any{"Ada", "Lovelace"}, out)

		_, err = tr.Apply([]any{"Plato"})
		var trErr *TransformError
		require.True(t, errors.As(err, &trErr))
		assert.Equal(t, []string{"name"}, trErr.Sources)
		assert.Equal(t, []string{"first", "last"}, trErr.Targets)
		assert.Contains(t, err.Error(), "name -> first,last")
	})

	t.Run("spec", func(t *testing.T) {
		tr, err := TransformSpec{Kind: "split", Sources: []string{"a"}, Targets: []string{"b", "c"}, Separator: "-"}.Build()
		require.NoError(t, err)
		out, err := tr.Apply([]any{"1-2"})
		require.NoError(t, err)
		assert.Equal(t, []any{"1", "2"}, out)

		_, err = TransformSpec{Kind: "explode"}.Build()
		assert.Error(t, err)
	})
}
