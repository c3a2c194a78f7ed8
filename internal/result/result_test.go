package result

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOkErr(t *testing.T) {
	ok := Ok(42)
	assert.True(t, ok.IsOk())
	assert.False(t, ok.IsErr())
	assert.Equal(t, 42, ok.Value())

	failed := Err[int]("boom")
	assert.True(t, failed.IsErr())
	assert.False(t, failed.IsOk())
	assert.Equal(t, "boom", failed.Error())
}

func TestInvokeConvertsError(t *testing.T) {
	res := Invoke(context.Background(), func() (string, error) {
		return "", errors.New("handler failed")
	})
	require.True(t, res.IsErr())
	assert.Equal(t, "handler failed", res.Error())
}

func TestInvokeConvertsPanic(t *testing.T) {
	res := Invoke(context.Background(), func() (string, error) {
		panic("unexpected nil pointer")
	})
	require.True(t, res.IsErr())
	assert.Contains(t, res.Error(), "unexpected nil pointer")
}

func TestInvokeSuccess(t *testing.T) {
	res := Invoke(context.Background(), func() (int, error) {
		return 7, nil
	})
	require.True(t, res.IsOk())
	assert.Equal(t, 7, res.Value())
}

func TestInvokeRespectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	res := Invoke(ctx, func() (int, error) {
		called = true
		return 1, nil
	})
	require.True(t, res.IsErr())
	assert.False(t, called, "thunk must not run once the context is already canceled")
	assert.Contains(t, res.Error(), "request canceled")
}

func TestInvokeAsyncPassesContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	res := InvokeAsync(ctx, func(c context.Context) (string, error) {
		v, _ := c.Value(ctxKey{}).(string)
		return v, nil
	})
	require.True(t, res.IsOk())
	assert.Equal(t, "value", res.Value())
}
