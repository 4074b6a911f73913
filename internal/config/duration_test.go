package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("21d")
	require.NoError(t, err)
	assert.Equal(t, 21*24*time.Hour, d.Duration())

	_, err = ParseDuration("nonsense")
	assert.Error(t, err)
}

func TestDurationJSON(t *testing.T) {
	type holder struct {
		TTL Duration `json:"ttl"`
	}

	t.Run("string value", func(t *testing.T) {
		var h holder
		require.NoError(t, json.Unmarshal([]byte(`{"ttl":"1w2d"}`), &h))
		assert.Equal(t, 9*24*time.Hour, h.TTL.Duration())
	})

	t.Run("nanosecond number", func(t *testing.T) {
		var h holder
		require.NoError(t, json.Unmarshal([]byte(`{"ttl":600000000000}`), &h))
		assert.Equal(t, 10*time.Minute, h.TTL.Duration())
	})

	t.Run("round trip", func(t *testing.T) {
		out, err := json.Marshal(holder{TTL: Duration(3 * 7 * 24 * time.Hour)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ttl":"3w"}`, string(out))

		var h holder
		require.NoError(t, json.Unmarshal(out, &h))
		assert.Equal(t, 3*7*24*time.Hour, h.TTL.Duration())
	})
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90m")))
	assert.Equal(t, 90*time.Minute, d.Duration())
	assert.Equal(t, "1h30m0s", d.String())
}
