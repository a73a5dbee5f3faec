package buffer_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer/mock"
)

func TestRecordsFlush(t *testing.T) {
	r := buffer.NewRecords()
	r.Emplace(buffer.CategoryCounterCollection, buffer.KindCounterHeader, "hdr")
	r.Emplace(buffer.CategoryCounterCollection, buffer.KindCounterRecord, 1.5)
	assert.Equal(t, 2, r.Len())

	entries := r.Flush()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, buffer.KindCounterHeader, entries[0].Kind)
	assert.Equal(t, uint64(2), entries[1].Seq)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Flush())

	r.Emplace(buffer.CategoryPCSampling, buffer.KindDispatchRetired, nil)
	assert.Equal(t, uint64(3), r.Flush()[0].Seq)
}

func TestRecordsRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := buffer.NewRecords()
	r.Emplace(buffer.CategoryPCSampling, buffer.KindPCSampleHostTrap, "sample")

	ctx, cancel := context.WithCancel(context.Background())
	out := r.Run(ctx, 5*time.Millisecond)
	select {
	case entries := <-out:
		require.Len(t, entries, 1)
		assert.Equal(t, "sample", entries[0].Record)
	case <-time.After(2 * time.Second):
		t.Fatal("no entries flushed")
	}
	cancel()
	for range out {
	}
}

func TestFanoutForwardsInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := mock.NewMockUpdater(ctrl)
	b := mock.NewMockUpdater(ctrl)

	first := buffer.Entry{Seq: 1, Category: buffer.CategoryCounterCollection, Kind: buffer.KindCounterHeader, Record: "hdr"}
	second := buffer.Entry{Seq: 2, Category: buffer.CategoryCounterCollection, Kind: buffer.KindCounterRecord, Record: 3.0}
	gomock.InOrder(
		a.EXPECT().Update(first),
		b.EXPECT().Update(first),
		a.EXPECT().Update(second),
		b.EXPECT().Update(second),
	)

	f := buffer.NewFanout(a, b)
	f.Emplace(buffer.CategoryCounterCollection, buffer.KindCounterHeader, "hdr")
	f.Emplace(buffer.CategoryCounterCollection, buffer.KindCounterRecord, 3.0)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "pc_sampling", buffer.CategoryPCSampling.String())
	assert.Equal(t, "none", buffer.Category(42).String())
	assert.Equal(t, "dispatch_retired", buffer.KindDispatchRetired.String())
	assert.Equal(t, "none", buffer.KindNone.String())
}
