package cache

import (
	"context"
	"testing"
	"time"

	"github.com/nhbchain/liquidationd/store"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	calls  int
	troves []store.TroveRow
}

func (f *fakeLoader) GetAllActiveTroves(ctx context.Context) ([]store.TroveRow, error) {
	f.calls++
	return f.troves, nil
}

func TestCacheHitWithinTTL(t *testing.T) {
	loader := &fakeLoader{troves: []store.TroveRow{{TroveID: "1"}}}
	c := New(time.Minute)

	_, err := c.GetSorted(context.Background(), loader)
	require.NoError(t, err)
	_, err = c.GetSorted(context.Background(), loader)
	require.NoError(t, err)

	require.Equal(t, 1, loader.calls)
}

func TestCacheReloadsAfterTTLExpires(t *testing.T) {
	loader := &fakeLoader{troves: []store.TroveRow{{TroveID: "1"}}}
	c := New(1 * time.Nanosecond)

	_, err := c.GetSorted(context.Background(), loader)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = c.GetSorted(context.Background(), loader)
	require.NoError(t, err)

	require.Equal(t, 2, loader.calls)
}

func TestInvalidateForcesReload(t *testing.T) {
	loader := &fakeLoader{troves: []store.TroveRow{{TroveID: "1"}}}
	c := New(time.Hour)

	_, err := c.GetSorted(context.Background(), loader)
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.GetSorted(context.Background(), loader)
	require.NoError(t, err)

	require.Equal(t, 2, loader.calls)
}
