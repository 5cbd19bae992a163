package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource and memStore provide a minimal in-memory double for LogSource
// and Store so the reorg-tolerance property (P2) can be exercised without
// a live chain.
type fakeSource struct {
	head   uint64
	byPage map[[2]uint64][]Event
}

func (f *fakeSource) CurrentHead(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeSource) FetchRange(_ context.Context, from, to uint64) ([]Event, error) {
	var out []Event
	for k, evts := range f.byPage {
		if k[0] >= from && k[1] <= to {
			out = append(out, evts...)
		}
	}
	return out, nil
}

type memStore struct {
	rows map[Key]Event
}

func newMemStore() *memStore { return &memStore{rows: map[Key]Event{}} }

func (m *memStore) Head(context.Context) (uint64, error) {
	var max uint64
	for k := range m.rows {
		if k.BlockNumber > max {
			max = k.BlockNumber
		}
	}
	return max, nil
}

func (m *memStore) ReplaceEvents(_ context.Context, from uint64, first []Event) error {
	for k := range m.rows {
		if k.BlockNumber >= from {
			delete(m.rows, k)
		}
	}
	return m.InsertEvents(nil, first)
}

func (m *memStore) InsertEvents(_ context.Context, evts []Event) error {
	for _, e := range evts {
		m.rows[e.Key()] = e
	}
	return nil
}

func tradeEvent(block uint64, logIndex uint64) Event {
	return Event{Kind: KindTrade, Trade: &Trade{Key: Key{BlockNumber: block, LogIndex: logIndex}}}
}

func TestIndexerReorgTolerance(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{
		head: 1000,
		byPage: map[[2]uint64][]Event{
			{500, 999}: {tradeEvent(995, 1)},
		},
	}
	idx := New(source, store, WithPageSize(500), WithMaxReorgBlocks(25))
	require.NoError(t, idx.Tick(context.Background()))
	require.Len(t, store.rows, 1)
	_, ok := store.rows[Key{BlockNumber: 995, LogIndex: 1}]
	assert.True(t, ok)

	// Chain rewinds to 990, new head 1001, replacement trade at (996, 0).
	source.head = 1001
	source.byPage = map[[2]uint64][]Event{
		{976, 1001}: {tradeEvent(996, 0)},
	}
	require.NoError(t, idx.Tick(context.Background()))

	assert.Len(t, store.rows, 1)
	_, stillThere := store.rows[Key{BlockNumber: 995, LogIndex: 1}]
	assert.False(t, stillThere, "pre-reorg trade must be gone")
	_, replaced := store.rows[Key{BlockNumber: 996, LogIndex: 0}]
	assert.True(t, replaced)
}

func TestIndexerFailsFastOnInvertedRange(t *testing.T) {
	store := newMemStore()
	store.rows[Key{BlockNumber: 2000, LogIndex: 0}] = tradeEvent(2000, 0)
	source := &fakeSource{head: 100} // head regressed below the reorg window
	idx := New(source, store)
	err := idx.Tick(context.Background())
	assert.Error(t, err)
}
