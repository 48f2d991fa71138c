package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type ctxKey string

func TestOperationContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("operation deadline ends it", func(t *testing.T) {
		tab := context.WithValue(context.Background(), ctxKey("target"), "tab-1")
		op, cancelOp := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelOp()

		ctx, cancel := operationContext(tab, op)
		defer cancel()
		assert.Equal(t, "tab-1", ctx.Value(ctxKey("target")))

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("operation context outlived its deadline")
		}
		assert.ErrorIs(t, context.Cause(ctx), context.DeadlineExceeded)
	})

	t.Run("closing the tab ends it", func(t *testing.T) {
		tab, closeTab := context.WithCancel(context.Background())
		ctx, cancel := operationContext(tab, context.Background())
		defer cancel()

		closeTab()
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("an operation already over ends it", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())
		cancelOp()

		ctx, cancel := operationContext(context.Background(), op)
		defer cancel()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("operation context ignored a finished operation")
		}
	})

	t.Run("release leaves the tab alone", func(t *testing.T) {
		tab, closeTab := context.WithCancel(context.Background())
		defer closeTab()

		_, cancel := operationContext(tab, context.Background())
		cancel()
		require.NoError(t, tab.Err())
	})
}
