package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/theycallmecoach/auth-server"
)

func TestIsWithinThresholdPeriod(t *testing.T) {
	within, err := auth.IsWithinThresholdPeriod(time.Now().Add(-time.Hour), "24h")
	require.NoError(t, err)
	assert.True(t, within)

	within, err = auth.IsWithinThresholdPeriod(time.Now().Add(-48*time.Hour), "24h")
	require.NoError(t, err)
	assert.False(t, within)
}

func TestIsOutsideThresholdPeriod(t *testing.T) {
	outside, err := auth.IsOutsideThresholdPeriod(time.Now().Add(-48*time.Hour), "24h")
	require.NoError(t, err)
	assert.True(t, outside)

	outside, err = auth.IsOutsideThresholdPeriod(time.Now().Add(-time.Hour), "24h")
	require.NoError(t, err)
	assert.False(t, outside)
}

func TestThresholdPeriodBadPattern(t *testing.T) {
	_, err := auth.IsWithinThresholdPeriod(time.Now(), "one day")
	assert.Error(t, err)

	_, err = auth.IsOutsideThresholdPeriod(time.Now(), "one day")
	assert.Error(t, err)
}
