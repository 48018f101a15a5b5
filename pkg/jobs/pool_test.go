package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegisops/aegis/pkg/ports"
)

func TestEnqueueRunsRegisteredHandlerAndRecordsResult(t *testing.T) {
	p := NewPool(2, 8)
	defer p.Stop()

	p.RegisterHandler("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	})

	id, err := p.Enqueue(context.Background(), "echo", []byte("hello"), "default", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := p.GetStatus(context.Background(), id)
		return status == ports.JobCompleted
	}, time.Second, 5*time.Millisecond)

	result, err := p.GetResult(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "echo:hello", string(result))
}

func TestEnqueueUnknownJobTypeFailsFast(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Stop()

	_, err := p.Enqueue(context.Background(), "nonexistent", nil, "default", 0)
	require.Error(t, err)
}

func TestHandlerErrorRecordsFailedStatus(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Stop()

	boom := errors.New("boom")
	p.RegisterHandler("fails", func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, boom
	})

	id, err := p.Enqueue(context.Background(), "fails", nil, "default", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := p.GetStatus(context.Background(), id)
		return status == ports.JobFailed
	}, time.Second, 5*time.Millisecond)

	_, err = p.GetResult(context.Background(), id)
	require.ErrorIs(t, err, boom)
}

func TestGetStatusUnknownJobErrors(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Stop()
	_, err := p.GetStatus(context.Background(), "nonexistent-id")
	require.Error(t, err)
}
