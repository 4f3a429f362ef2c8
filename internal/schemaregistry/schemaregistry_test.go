package schemaregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListReturnsBuiltinsSortedByName(t *testing.T) {
	r := New(nil)
	schemas := r.List()
	require.Len(t, schemas, 3)
	assert.Equal(t, "generic", schemas[0].Name)
	assert.Equal(t, "invoice", schemas[1].Name)
	assert.Equal(t, "receipt", schemas[2].Name)
}

func TestGetKnownSchema(t *testing.T) {
	r := New(nil)
	s, err := r.Get("invoice")
	require.NoError(t, err)
	assert.Equal(t, "invoice", s.Name)
	assert.True(t, s.IsRequired("invoice_number"))
	assert.True(t, s.IsRequired("total"))
	assert.False(t, s.IsRequired("currency"))
}

func TestGetUnknownSchema(t *testing.T) {
	r := New(nil)
	_, err := r.Get("nonexistent")
	require.Error(t, err)
}

func TestGenericSchemaHasNoRequiredFields(t *testing.T) {
	r := New(nil)
	s, err := r.Get(GenericSchemaName)
	require.NoError(t, err)
	assert.Empty(t, s.RequiredFields)
	assert.False(t, s.IsRequired("title"))
}
