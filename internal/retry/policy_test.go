package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, config.RetryBackoffExponential, p.Mode)
	assert.Equal(t, 2*time.Second, p.Initial)
	assert.Equal(t, 30*time.Second, p.Max)
	assert.Equal(t, 3, p.Attempts())
}

func TestNewPolicyClampsInitial(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, 5*time.Second, 2*time.Second, 5)
	assert.Equal(t, 2*time.Second, p.Initial)
	assert.Equal(t, config.RetryBackoffFixed, p.Mode)
	assert.Equal(t, 5, p.MaxRetries)

	unknown := NewPolicy("random", 0, 0, -1)
	assert.Equal(t, DefaultPolicy(), unknown)
}

func TestDelayModes(t *testing.T) {
	cases := []struct {
		mode  config.RetryBackoffMode
		retry int
		want  time.Duration
	}{
		{config.RetryBackoffFixed, 1, 100 * time.Millisecond},
		{config.RetryBackoffFixed, 4, 100 * time.Millisecond},
		{config.RetryBackoffLinear, 2, 200 * time.Millisecond},
		{config.RetryBackoffLinear, 9, 350 * time.Millisecond},
		{config.RetryBackoffExponential, 1, 100 * time.Millisecond},
		{config.RetryBackoffExponential, 2, 200 * time.Millisecond},
		{config.RetryBackoffExponential, 3, 350 * time.Millisecond},
		{config.RetryBackoffExponential, 80, 350 * time.Millisecond},
	}
	for _, c := range cases {
		p := NewPolicy(c.mode, 100*time.Millisecond, 350*time.Millisecond, 3)
		assert.Equal(t, c.want, p.Delay(c.retry), "%s retry %d", c.mode, c.retry)
	}
	assert.Zero(t, DefaultPolicy().Delay(0))
	assert.Zero(t, DefaultPolicy().Delay(-2))
}

func TestWaitHonoursContext(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Hour, time.Hour, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx, 1), context.Canceled)

	fast := NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 1)
	require.NoError(t, fast.Wait(context.Background(), 1))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	require.Error(t, Policy{Initial: 0, Max: time.Second}.Validate())
	require.Error(t, Policy{Initial: time.Second, Max: 0}.Validate())
	require.Error(t, Policy{Initial: time.Second, Max: time.Second, MaxRetries: -1}.Validate())
}
