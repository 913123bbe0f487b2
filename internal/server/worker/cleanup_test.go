package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	calls atomic.Int32
	err   error
}

func (p *fakePurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 2, p.err
}

func TestNewCleanup_RejectsBadSchedule(t *testing.T) {
	_, err := NewCleanup("every now and then", &fakePurger{}, logging.Nop{})
	assert.Error(t, err)
}

func TestCleanup_RunOnce(t *testing.T) {
	p := &fakePurger{}
	c, err := NewCleanup("@every 1h", p, logging.Nop{})
	require.NoError(t, err)

	c.RunOnce(context.Background())
	assert.Equal(t, int32(1), p.calls.Load())

	p.err = errors.New("db down")
	require.NotPanics(t, func() { c.RunOnce(context.Background()) })
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestCleanup_RunFiresOnSchedule(t *testing.T) {
	p := &fakePurger{}
	c, err := NewCleanup("@every 1s", p, logging.Nop{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup did not stop")
	}
}
