package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe(JobCompleted, func(_ context.Context, e Event) {
		got = append(got, e)
	})

	bus.Publish(context.Background(), Event{
		Type:    JobCompleted,
		Payload: JobEvent{JobID: "j1", Source: "a.pdf"},
	})

	require.Len(t, got, 1)
	assert.Equal(t, JobCompleted, got[0].Type)
	assert.False(t, got[0].Timestamp.IsZero())

	payload, ok := got[0].Payload.(JobEvent)
	require.True(t, ok)
	assert.Equal(t, "j1", payload.JobID)
}

func TestBus_TypeIsolation(t *testing.T) {
	bus := NewBus()

	completed, failed := 0, 0
	bus.Subscribe(JobCompleted, func(context.Context, Event) { completed++ })
	bus.Subscribe(JobFailed, func(context.Context, Event) { failed++ })

	bus.Publish(context.Background(), Event{Type: JobCompleted})
	bus.Publish(context.Background(), Event{Type: JobCompleted})
	bus.Publish(context.Background(), Event{Type: JobFailed})

	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, failed)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsubscribe := bus.Subscribe(JobSubmitted, func(context.Context, Event) { calls++ })

	bus.Publish(context.Background(), Event{Type: JobSubmitted})
	unsubscribe()
	bus.Publish(context.Background(), Event{Type: JobSubmitted})

	assert.Equal(t, 1, calls)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	// Must not panic or block.
	bus.Publish(context.Background(), Event{Type: JobRejected})
}
