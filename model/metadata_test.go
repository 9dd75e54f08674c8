package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValue(t *testing.T) {
	t.Run("Value returns marshaled JSON", func(t *testing.T) {
		m := Metadata{"lastmod": "2024-03-01", "start_pos": 0}

		value, err := m.Value()

		require.NoError(t, err)
		bytes, ok := value.([]byte)
		require.True(t, ok)

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes, &result))
		assert.Equal(t, "2024-03-01", result["lastmod"])
		assert.Equal(t, float64(0), result["start_pos"])
	})

	t.Run("Nil metadata is stored as an empty object", func(t *testing.T) {
		var m Metadata

		value, err := m.Value()

		require.NoError(t, err)
		assert.Equal(t, []byte("{}"), value)
	})
}

func TestMetadataScan(t *testing.T) {
	t.Run("Scan from JSON bytes", func(t *testing.T) {
		var m Metadata

		err := m.Scan([]byte(`{"key":"value"}`))

		require.NoError(t, err)
		assert.Equal(t, "value", m["key"])
	})

	t.Run("Scan from string", func(t *testing.T) {
		var m Metadata

		err := m.Scan(`{"chunk_size":1500}`)

		require.NoError(t, err)
		assert.Equal(t, float64(1500), m["chunk_size"])
	})

	t.Run("Scan from nil", func(t *testing.T) {
		var m Metadata

		err := m.Scan(nil)

		require.NoError(t, err)
		assert.NotNil(t, m)
		assert.Len(t, m, 0)
	})

	t.Run("Scan invalid JSON", func(t *testing.T) {
		var m Metadata

		err := m.Scan([]byte(`{invalid json}`))

		require.Error(t, err)
	})

	t.Run("Scan invalid type", func(t *testing.T) {
		var m Metadata

		err := m.Scan(12345)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "type assertion")
	})

	t.Run("Value then Scan preserves data", func(t *testing.T) {
		original := Metadata{"key": "value"}

		value, err := original.Value()
		require.NoError(t, err)

		var restored Metadata
		require.NoError(t, restored.Scan(value))
		assert.Equal(t, "value", restored["key"])
	})
}
