package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// RunLedger keeps partition runs in insertion order.
type RunLedger struct {
	mu    sync.RWMutex
	runs  []crawler.PartitionRun
	index map[string]int
}

// NewRunLedger creates an empty ledger.
func NewRunLedger() *RunLedger {
	return &RunLedger{index: make(map[string]int)}
}

func runKey(run crawler.PartitionRun) string {
	return run.RunID + "\x00" + run.Country + "\x00" + run.Keyword
}

// StartPartition records a running pass, replacing an earlier start of the
// same partition.
func (l *RunLedger) StartPartition(_ context.Context, run crawler.PartitionRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	run.State = ""
	if i, ok := l.index[runKey(run)]; ok {
		l.runs[i] = run
		return nil
	}
	l.index[runKey(run)] = len(l.runs)
	l.runs = append(l.runs, run)
	return nil
}

// FinishPartition stores the terminal row.
func (l *RunLedger) FinishPartition(_ context.Context, run crawler.PartitionRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[runKey(run)]
	if !ok {
		return fmt.Errorf("partition run %s/%s/%s not started", run.RunID, run.Country, run.Keyword)
	}
	l.runs[i] = run
	return nil
}

// Runs returns a copy of every row.
func (l *RunLedger) Runs() []crawler.PartitionRun {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]crawler.PartitionRun(nil), l.runs...)
}

var _ crawler.RunLedger = (*RunLedger)(nil)
