package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/pipeline"
)

func TestScheduler_Refresh(t *testing.T) {
	initial := &pipeline.Tables{LoadedAt: time.Unix(1, 0)}
	next := &pipeline.Tables{LoadedAt: time.Unix(2, 0)}

	t.Run("publishes new snapshot", func(t *testing.T) {
		holder := pipeline.NewHolder(initial)
		calls := 0
		s := NewScheduler("", holder, func(ctx context.Context) (*pipeline.Tables, error) {
			calls++
			return next, nil
		}, nil)

		require.NoError(t, s.Refresh(context.Background()))
		assert.Equal(t, 1, calls)
		assert.Same(t, next, holder.Current())
	})

	t.Run("keeps current snapshot on failure", func(t *testing.T) {
		holder := pipeline.NewHolder(initial)
		s := NewScheduler("", holder, func(ctx context.Context) (*pipeline.Tables, error) {
			return nil, errors.New("catalog unreachable")
		}, nil)

		err := s.Refresh(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog unreachable")
		assert.Same(t, initial, holder.Current())
	})

	t.Run("no loader", func(t *testing.T) {
		s := NewScheduler("", pipeline.NewHolder(initial), nil, nil)
		assert.ErrorIs(t, s.Refresh(context.Background()), ErrNoLoader)
	})
}

func TestScheduler_Start(t *testing.T) {
	t.Run("empty schedule is disabled", func(t *testing.T) {
		s := NewScheduler("", pipeline.NewHolder(nil), nil, nil)
		require.NoError(t, s.Start())
		assert.Zero(t, s.Entries())
		<-s.Stop().Done()
	})

	t.Run("registers refresh job", func(t *testing.T) {
		s := NewScheduler("@every 1h", pipeline.NewHolder(nil), nil, nil)
		require.NoError(t, s.Start())
		assert.Equal(t, 1, s.Entries())
		<-s.Stop().Done()
	})

	t.Run("invalid schedule", func(t *testing.T) {
		s := NewScheduler("every now and then", pipeline.NewHolder(nil), nil, nil)
		assert.Error(t, s.Start())
	})
}
