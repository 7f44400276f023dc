package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/categorization"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/matching"
)

// ErrNoTables is returned when a run starts before any snapshot was loaded
var ErrNoTables = errors.New("no rule or catalog tables loaded")

// Tables is one immutable snapshot of the classification rules and the
// product catalog. A batch resolves its snapshot once and uses it for every
// receipt, so a refresh never lands mid-batch.
type Tables struct {
	Classifier *categorization.Classifier
	Matcher    *matching.Matcher
	LoadedAt   time.Time

	catalog   *matching.Catalog
	logger    *slog.Logger
	refs      atomic.Int64
	retired   atomic.Bool
	closeOnce sync.Once
}

// NewTables compiles a rule table and wraps a catalog into a snapshot
func NewTables(rules *categorization.RuleTable, catalog *matching.Catalog, opts matching.Options, logger *slog.Logger) (*Tables, error) {
	if catalog == nil {
		return nil, matching.ErrEmptyCatalog
	}
	classifier, err := categorization.NewClassifier(rules, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tables{
		Classifier: classifier,
		Matcher:    matching.NewMatcher(catalog, opts, logger),
		LoadedAt:   time.Now().UTC(),
		catalog:    catalog,
		logger:     logger,
	}, nil
}

// Version identifies the snapshot in logs and batch reports
func (t *Tables) Version() string {
	if t == nil || t.Classifier == nil {
		return ""
	}
	return t.Classifier.Version()
}

func (t *Tables) release() {
	if t.refs.Add(-1) == 0 && t.retired.Load() {
		t.close()
	}
}

// retire marks a replaced snapshot. Its catalog is closed as soon as no run
// holds it.
func (t *Tables) retire() {
	t.retired.Store(true)
	if t.refs.Load() == 0 {
		t.close()
	}
}

// Closed reports whether the snapshot's catalog has been released
func (t *Tables) Closed() bool {
	return t.retired.Load() && t.refs.Load() == 0
}

func (t *Tables) close() {
	t.closeOnce.Do(func() {
		if t.catalog == nil {
			return
		}
		if err := t.catalog.Close(); err != nil {
			t.logger.Warn("failed to close retired catalog",
				slog.String("version", t.Version()),
				slog.Any("error", err),
			)
		}
	})
}

// Holder publishes the current snapshot. Runs acquire the pointer once per
// batch; Swap installs a new one for the batches that follow.
type Holder struct {
	current atomic.Pointer[Tables]
}

// NewHolder creates a holder, optionally seeded with a snapshot
func NewHolder(initial *Tables) *Holder {
	h := &Holder{}
	if initial != nil {
		h.current.Store(initial)
	}
	return h
}

// Current returns the published snapshot, or nil before the first load
func (h *Holder) Current() *Tables {
	return h.current.Load()
}

// Acquire returns the published snapshot and a release func the caller must
// run when done with it. The snapshot stays open until released, even if it
// is swapped out meanwhile. Before the first load it returns nil and a no-op.
func (h *Holder) Acquire() (*Tables, func()) {
	for {
		t := h.current.Load()
		if t == nil {
			return nil, func() {}
		}
		t.refs.Add(1)
		// a swap between Load and Add may already have retired t
		if h.current.Load() == t {
			return t, t.release
		}
		t.release()
	}
}

// Swap publishes next and returns the snapshot it replaced. The previous
// snapshot stays valid for batches already holding it and is closed after
// the last of them releases it.
func (h *Holder) Swap(next *Tables) *Tables {
	prev := h.current.Swap(next)
	if prev != nil && prev != next {
		prev.retire()
	}
	return prev
}

// Close retires the published snapshot
func (h *Holder) Close() {
	if t := h.current.Swap(nil); t != nil {
		t.retire()
	}
}
