package bus

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/inletworks/inlet/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Value string `json:"value"`
}

func TestMemoryDispatchOrder(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	var got []string
	b.Subscribe("Ping", func(_ context.Context, msg Message) error {
		var p testPayload
		require.NoError(t, msg.Decode(&p))
		got = append(got, "first:"+p.Value)
		return nil
	})
	b.Subscribe("Ping", func(_ context.Context, msg Message) error {
		got = append(got, "second")
		return nil
	})
	b.Subscribe("Other", func(_ context.Context, msg Message) error {
		got = append(got, "other")
		return nil
	})

	require.NoError(t, b.Publish(ctx, "Ping", testPayload{Value: "v"}))
	assert.Equal(t, []string{"first:v", "second"}, got)
}

func TestMemoryHandlerErrorDoesNotStopOthers(t *testing.T) {
	b := NewMemory()

	calls := 0
	b.Subscribe("Ping", func(context.Context, Message) error {
		return errors.New("boom")
	})
	b.Subscribe("Ping", func(context.Context, Message) error {
		calls++
		return nil
	})

	require.NoError(t, b.Send(context.Background(), "Ping", testPayload{}))
	assert.Equal(t, 1, calls)
}

func TestDurableDeliversAndMarks(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	defer st.Close()

	b := NewDurable(st)
	ctx := context.Background()

	var got []string
	b.Subscribe("Ping", func(_ context.Context, msg Message) error {
		var p testPayload
		require.NoError(t, msg.Decode(&p))
		got = append(got, p.Value)
		return nil
	})

	require.NoError(t, b.Send(ctx, "Ping", testPayload{Value: "a"}))
	require.NoError(t, b.Send(ctx, "Ping", testPayload{Value: "b"}))

	b.drain(ctx)
	assert.Equal(t, []string{"a", "b"}, got)

	pending, err := st.OutboxPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDurableRedeliversOnHandlerError(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "bus.db"))
	require.NoError(t, err)
	defer st.Close()

	b := NewDurable(st)
	ctx := context.Background()

	attempts := 0
	b.Subscribe("Ping", func(context.Context, Message) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, b.Send(ctx, "Ping", testPayload{Value: "x"}))

	b.drain(ctx)
	pending, err := st.OutboxPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "failed delivery stays pending")

	b.drain(ctx)
	pending, err = st.OutboxPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 2, attempts)
}

func TestDurableSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.db")
	ctx := context.Background()

	st, err := store.Open(path)
	require.NoError(t, err)
	first := NewDurable(st)
	require.NoError(t, first.Send(ctx, "Ping", testPayload{Value: "queued"}))
	require.NoError(t, st.Close())

	st2, err := store.Open(path)
	require.NoError(t, err)
	defer st2.Close()

	second := NewDurable(st2)
	var got []string
	second.Subscribe("Ping", func(_ context.Context, msg Message) error {
		var p testPayload
		require.NoError(t, msg.Decode(&p))
		got = append(got, p.Value)
		return nil
	})
	second.drain(ctx)
	assert.Equal(t, []string{"queued"}, got)
}
