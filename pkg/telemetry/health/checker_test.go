package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_AllHealthy(t *testing.T) {
	c := New(time.Second)
	c.Register("rule_store", func(ctx context.Context) error { return nil })
	c.Register("action_store", func(ctx context.Context) error { return nil })

	report := c.Check(context.Background())

	assert.Equal(t, "ok", report.Status)
	assert.True(t, report.Healthy())
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "ok", report.Checks["rule_store"].Status)
	assert.Empty(t, report.Checks["rule_store"].Message)
}

func TestCheck_FailureDegrades(t *testing.T) {
	c := New(time.Second)
	c.Register("rule_store", func(ctx context.Context) error { return nil })
	c.Register("action_store", func(ctx context.Context) error {
		return errors.New("database is locked")
	})

	report := c.Check(context.Background())

	assert.Equal(t, "degraded", report.Status)
	assert.False(t, report.Healthy())
	assert.Equal(t, "ok", report.Checks["rule_store"].Status)
	assert.Equal(t, "unhealthy", report.Checks["action_store"].Status)
	assert.Equal(t, "database is locked", report.Checks["action_store"].Message)
}

func TestCheck_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	report := c.Check(context.Background())

	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "unhealthy", report.Checks["slow"].Status)
}

func TestCheck_NoChecksRegistered(t *testing.T) {
	report := New(0).Check(context.Background())

	assert.Equal(t, "ok", report.Status)
	assert.Empty(t, report.Checks)
}

func TestRegister_Replaces(t *testing.T) {
	c := New(time.Second)
	c.Register("store", func(ctx context.Context) error { return errors.New("down") })
	c.Register("store", func(ctx context.Context) error { return nil })

	report := c.Check(context.Background())

	assert.Equal(t, "ok", report.Status)
}
