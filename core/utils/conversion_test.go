package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt64(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{int32(7), 7, false},
		{" 42 ", 42, false},
		{[]byte("-3"), -3, false},
		{float64(5), 5, false},
		{2.5, 0, true},
		{uint64(1) << 63, 0, true},
		{^uint(0), 0, true},
		{uint(9), 9, false},
		{float64(math.MaxInt64), 0, true},
		{9.3e18, 0, true},
		{-9.3e18, 0, true},
		{float64(math.MinInt64), math.MinInt64, false},
		{math.Inf(1), 0, true},
		{"abc", 0, true},
		{struct{}{}, 0, true},
	}
	for _, tt := range tests {
		got, err := ToInt64(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.in)
			continue
		}
		assert.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestToBool(t *testing.T) {
	for _, s := range []string{"true", "T", "yes", "on", "1"} {
		b, err := ToBool(s)
		assert.NoError(t, err)
		assert.True(t, b, s)
	}
	b, err := ToBool(0)
	assert.NoError(t, err)
	assert.False(t, b)

	_, err = ToBool(2)
	assert.Error(t, err)
	_, err = ToBool("maybe")
	assert.Error(t, err)
}

func TestToFloat64AndString(t *testing.T) {
	f, err := ToFloat64("1.25")
	assert.NoError(t, err)
	assert.Equal(t, 1.25, f)

	f, err = ToFloat64(int16(3))
	assert.NoError(t, err)
	assert.Equal(t, 3.0, f)

	assert.Equal(t, "abc", ToString([]byte("abc")))
	assert.Equal(t, "12", ToString(12))
}
