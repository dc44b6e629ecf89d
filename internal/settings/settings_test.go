package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/shared"
)

func TestParse_Defaults(t *testing.T) {
	s := Parse(nil)
	assert.Equal(t, Default(), s)
	assert.True(t, s.Enabled)
	assert.Equal(t, time.Hour, s.OneTimeRetry)
	assert.Equal(t, 4, s.MaxThreads)
	assert.Equal(t, 10*time.Second, s.StreamRetry)
}

func TestParse_Values(t *testing.T) {
	s := Parse(map[string]string{
		KeyEnabled:     "false",
		KeyRetry:       "60",
		KeyLogLife:     "7",
		KeyStreamLoop:  "1",
		KeyStreamRetry: "500",
		KeyMaxThreads:  "2",
		"unknown":      "zzz",
	})
	assert.False(t, s.Enabled)
	assert.Equal(t, time.Minute, s.OneTimeRetry)
	assert.Equal(t, 7, s.LogLife)
	assert.True(t, s.StreamLoop)
	assert.Equal(t, 500*time.Millisecond, s.StreamRetry)
	assert.Equal(t, 2, s.MaxThreads)
}

func TestParse_OutOfRangeFallsBack(t *testing.T) {
	s := Parse(map[string]string{
		KeyMaxThreads: "0",
		KeyRetry:      "-5",
		KeyLogLife:    "abc",
		KeyEnabled:    "maybe",
	})
	assert.Equal(t, DefaultMaxThreads, s.MaxThreads)
	assert.Equal(t, DefaultRetry*time.Second, s.OneTimeRetry)
	assert.Equal(t, DefaultLogLife, s.LogLife)
	assert.True(t, s.Enabled)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		key, value string
		want       string
		wantErr    bool
	}{
		{KeyEnabled, "TRUE", "true", false},
		{KeyEnabled, "0", "false", false},
		{KeyEnabled, "yes", "", true},
		{KeyMaxThreads, " 8 ", "8", false},
		{KeyMaxThreads, "0", "", true},
		{KeyMaxThreads, "-1", "", true},
		{KeyRetry, "0", "0", false},
		{KeyStreamRetry, "1.5", "", true},
		{"nope", "1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := Normalize(tt.key, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, shared.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []string{KeyEnabled, KeyLogLife, KeyMaxThreads, KeyRetry, KeyStreamLoop, KeyStreamRetry}, Keys())
}

func TestContext(t *testing.T) {
	assert.Equal(t, Default(), FromContext(context.Background()))
	s := Default()
	s.LogLife = 3
	assert.Equal(t, 3, FromContext(WithContext(context.Background(), s)).LogLife)
}
