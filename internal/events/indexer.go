package events

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
)

// LogSource is the external RPC collaborator (out of scope per spec.md
// §1: "blockchain RPC transport ... out of scope"). It streams decoded
// events for an inclusive block range [from, to], one page at a time.
type LogSource interface {
	// FetchRange returns every event observed in [from, to], converted to
	// the tagged Event variant already, ordered ascending by Key.
	FetchRange(ctx context.Context, from, to uint64) ([]Event, error)
	// CurrentHead returns the chain's current block number.
	CurrentHead(ctx context.Context) (uint64, error)
}

// Store is the subset of the order-book store (component E) the indexer
// writes through. ReplaceEvents implements the "delete rows with
// blockNumber >= from, then insert the first chunk" transaction described
// in spec.md §4.A; InsertEvents is the non-deleting path for subsequent
// pages of the same tick.
type Store interface {
	ReplaceEvents(ctx context.Context, from uint64, first []Event) error
	InsertEvents(ctx context.Context, evts []Event) error
	Head(ctx context.Context) (uint64, error)
}

// Indexer drives component A of spec.md §4.A.
type Indexer struct {
	source   LogSource
	store    Store
	pageSize uint64
	maxReorg uint64

	lastHandled uint64
	log         log.Logger
}

// Option configures an Indexer at construction.
type Option func(*Indexer)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n uint64) Option { return func(i *Indexer) { i.pageSize = n } }

// WithMaxReorgBlocks overrides MaxReorgBlocks (config key max_reorg_blocks).
func WithMaxReorgBlocks(n uint64) Option { return func(i *Indexer) { i.maxReorg = n } }

// New constructs an Indexer.
func New(source LogSource, store Store, opts ...Option) *Indexer {
	idx := &Indexer{
		source:   source,
		store:    store,
		pageSize: DefaultPageSize,
		maxReorg: MaxReorgBlocks,
		log:      log.New("component", "event_indexer"),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Tick runs a single indexer pass (spec.md §4.A). It computes
// from = max(lastHandled, storeHead) - maxReorg, to = currentHead, and
// fails fast if from > to rather than silently skipping (a shrinking
// head would otherwise desync the cursor).
func (idx *Indexer) Tick(ctx context.Context) error {
	storeHead, err := idx.store.Head(ctx)
	if err != nil {
		return fmt.Errorf("reading store head: %w", err)
	}
	head := idx.lastHandled
	if storeHead > head {
		head = storeHead
	}

	var from uint64
	if head > idx.maxReorg {
		from = head - idx.maxReorg
	}

	to, err := idx.source.CurrentHead(ctx)
	if err != nil {
		return fmt.Errorf("fetching current head: %w", err)
	}
	if from > to {
		return fmt.Errorf("event indexer: reorg window starts past current head (from=%d to=%d)", from, to)
	}

	first := true
	for page := from; page <= to; page += idx.pageSize {
		pageEnd := page + idx.pageSize - 1
		if pageEnd > to {
			pageEnd = to
		}
		evts, err := idx.source.FetchRange(ctx, page, pageEnd)
		if err != nil {
			return fmt.Errorf("fetching events [%d,%d]: %w", page, pageEnd, err)
		}
		if first {
			// Delete-then-insert in one transaction so a concurrent
			// solver-path reader never observes the gap (spec.md §4.A
			// rationale).
			if err := idx.store.ReplaceEvents(ctx, from, evts); err != nil {
				return fmt.Errorf("replacing events from %d: %w", from, err)
			}
			first = false
			continue
		}
		if len(evts) == 0 {
			continue
		}
		if err := idx.store.InsertEvents(ctx, evts); err != nil {
			return fmt.Errorf("inserting events [%d,%d]: %w", page, pageEnd, err)
		}
	}
	if first {
		if err := idx.store.ReplaceEvents(ctx, from, nil); err != nil {
			return fmt.Errorf("replacing events from %d (empty range): %w", from, err)
		}
	}

	idx.lastHandled = to
	idx.log.Debug("indexer tick complete", "from", from, "to", to)
	return nil
}

// LastHandled returns the most recent head absorbed, for tests and
// metrics (indexer lag = currentHead - LastHandled).
func (idx *Indexer) LastHandled() uint64 { return idx.lastHandled }
