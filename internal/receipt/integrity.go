package receipt

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"
)

// DefaultIntegrityInterval is the pause between background integrity passes
const DefaultIntegrityInterval = 30 * time.Second

// CheckerState is the state of the integrity checker
type CheckerState int32

const (
	StateIdle CheckerState = iota
	StateScanning
)

func (s CheckerState) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// IntegrityChecker verifies that every item's receipt file exists and
// publishes the discrepancies in the document.
type IntegrityChecker struct {
	store      *Store
	storage    Storage
	interval   time.Duration
	timeSource TimeSource
	running    atomic.Int32
	trigger    chan struct{}
}

// NewIntegrityChecker creates a checker; interval <= 0 selects the default
func NewIntegrityChecker(store *Store, storage Storage, interval time.Duration, timeSrc TimeSource) *IntegrityChecker {
	if interval <= 0 {
		interval = DefaultIntegrityInterval
	}
	if timeSrc == nil {
		timeSrc = &defaultTimeSource{}
	}
	return &IntegrityChecker{
		store:      store,
		storage:    storage,
		interval:   interval,
		timeSource: timeSrc,
		trigger:    make(chan struct{}, 1),
	}
}

// State reports whether any pass is running or waiting for the store
func (c *IntegrityChecker) State() CheckerState {
	if c.running.Load() > 0 {
		return StateScanning
	}
	return StateIdle
}

// RunCheck lists the items of doc whose receipt file is missing. It only reads
// the filesystem. Issues already present in doc keep their detection time.
func (c *IntegrityChecker) RunCheck(doc *Document) []IntegrityIssue {
	now := c.timeSource.Now().UTC()
	issues := []IntegrityIssue{}
	for _, it := range doc.Items {
		if it.RelativePath == "" {
			continue
		}
		exists, err := c.storage.Exists(it.RelativePath)
		if err != nil {
			slog.Warn("Integrity check could not stat file", "item_id", it.ID, "path", it.RelativePath, "error", err)
		}
		if exists {
			continue
		}

		detected := now
		if i := slices.IndexFunc(doc.IntegrityIssues, func(prev IntegrityIssue) bool {
			return prev.ItemID == it.ID && prev.ExpectedPath == it.RelativePath
		}); i >= 0 {
			detected = doc.IntegrityIssues[i].DetectedAt
		}
		issues = append(issues, IntegrityIssue{
			ItemID:       it.ID,
			GroupID:      it.GroupID,
			ExpectedPath: it.RelativePath,
			DetectedAt:   detected,
		})
	}
	return issues
}

// Check runs one pass under the store guard and persists the resulting issue list
func (c *IntegrityChecker) Check(ctx context.Context) ([]IntegrityIssue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.running.Add(1)
	defer c.running.Add(-1)

	var issues []IntegrityIssue
	err := c.store.Update(func(tx *Tx) error {
		issues = c.RunCheck(tx.Document())
		tx.Document().IntegrityIssues = issues
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(issues) > 0 {
		slog.Warn("Integrity issues detected", "count", len(issues))
	} else {
		slog.Debug("Integrity check passed")
	}
	return issues, nil
}

// Trigger requests a pass from Run without waiting for the next tick
func (c *IntegrityChecker) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run performs a pass immediately, then on every interval and on Trigger,
// until ctx is cancelled. Failed passes are logged and the loop continues.
func (c *IntegrityChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runOnce(ctx)
		case <-c.trigger:
			c.runOnce(ctx)
		}
	}
}

func (c *IntegrityChecker) runOnce(ctx context.Context) {
	if _, err := c.Check(ctx); err != nil {
		slog.Error("Integrity check failed", "error", err)
	}
}
