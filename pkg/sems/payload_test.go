package sems

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQuantity(t *testing.T) {

	tests := []struct {
		in    any
		value float64
		unit  string
	}{
		{"582.0W", 582, "W"},
		{"-1252.0W", -1252, "W"},
		{"1.2kW", 1.2, "kW"},
		{"1.2 (kW)", 1.2, "kW"},
		{"15", 15, "kWh"},
		{12.5, 12.5, "kWh"},
	}
	for _, tt := range tests {
		v, unit, err := ParseQuantity(tt.in, "kWh")
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.value, v, tt.in)
		assert.Equal(t, tt.unit, unit, tt.in)
	}

	_, _, err := ParseQuantity("n/a", "W")
	assert.Error(t, err)
	_, _, err = ParseQuantity(true, "W")
	assert.Error(t, err)
}

func TestObjectAccessors(t *testing.T) {

	assert := assert.New(t)

	o := AsObject(map[string]any{
		"status":   float64(1),
		"capacity": "6.6",
		"name":     "Home",
		"broken":   "--",
		"nested":   map[string]any{"a": 1.0},
		"list":     []any{1.0},
		"nothing":  nil,
	})

	f, err := o.Float("capacity")
	assert.NoError(err)
	assert.Equal(6.6, f)

	_, err = o.Float("broken")
	assert.ErrorIs(err, ErrSchema)
	_, err = o.Float("missing")
	assert.ErrorIs(err, ErrSchema)
	_, err = o.Float("nothing")
	assert.ErrorIs(err, ErrSchema)

	s, err := o.String("status")
	assert.NoError(err)
	assert.Equal("1", s)

	assert.True(o.Has("name"))
	assert.False(o.Has("nothing"))
	assert.NotNil(o.Object("nested"))
	assert.Nil(o.Object("name"))
	assert.Len(o.List("list"), 1)
	assert.Nil(o.List("nested"))

	var empty Object
	assert.Nil(empty.Object("x"), "nil object is safe")
	_, err = empty.String("x")
	assert.Error(err)
}
