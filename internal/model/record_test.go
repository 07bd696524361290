package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sptr(s string) *string { return &s }

func i64ptr(v int64) *int64 { return &v }

func iptr(v int) *int { return &v }

func f64ptr(v float64) *float64 { return &v }

func bptr(v bool) *bool { return &v }

func TestRecordField(t *testing.T) {
	rec := &CanonicalRecord{
		ProductCode: "4968761342158",
		Name:        sptr("ステンレスボトル"),
		SalePrice:   i64ptr(2480),
		Rating:      f64ptr(4.6),
		Images:      []string{"a.jpg", "b.jpg"},
		InStock:     bptr(true),
	}

	v, ok := rec.Field(FieldProductCode)
	require.True(t, ok)
	assert.Equal(t, "4968761342158", v)

	v, ok = rec.Field(FieldName)
	require.True(t, ok)
	assert.Equal(t, "ステンレスボトル", v)

	v, ok = rec.Field(FieldSalePrice)
	require.True(t, ok)
	assert.Equal(t, int64(2480), v)

	v, ok = rec.Field(FieldImages)
	require.True(t, ok)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, v)

	_, ok = rec.Field(FieldOriginalPrice)
	assert.False(t, ok, "nil pointer reads as absent")

	_, ok = rec.Field(FieldCategories)
	assert.False(t, ok, "empty slice reads as absent")

	_, ok = rec.Field("unknown_field")
	assert.False(t, ok)
}

func TestRecordField_EmptyProductCodeAbsent(t *testing.T) {
	rec := &CanonicalRecord{}
	_, ok := rec.Field(FieldProductCode)
	assert.False(t, ok)
}

func TestRecordToRaw(t *testing.T) {
	rec := &CanonicalRecord{
		ProductCode:  "1234567890",
		Name:         sptr("ボトル"),
		SalePrice:    i64ptr(1980),
		DiscountRate: iptr(20),
		ReviewCount:  iptr(312),
		ImageCount:   iptr(2),
		Images:       []string{"a.jpg", "b.jpg"},
		InStock:      bptr(true),
	}

	raw := rec.ToRaw()
	assert.Equal(t, "1234567890", raw[FieldProductCode])
	assert.Equal(t, "ボトル", raw[FieldName])
	assert.Equal(t, int64(1980), raw[FieldSalePrice])
	assert.Equal(t, 20, raw[FieldDiscountRate])
	assert.Equal(t, true, raw[FieldInStock])

	_, ok := raw[FieldOriginalPrice]
	assert.False(t, ok, "absent fields stay absent")
	_, ok = raw[FieldDescription]
	assert.False(t, ok)
}
