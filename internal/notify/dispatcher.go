package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/xperimental/upstream-watch/internal/config"
	"github.com/xperimental/upstream-watch/internal/watcher"
)

// Dispatcher reports cycle results as they arrive.
type Dispatcher struct {
	log     config.Logger
	results <-chan watcher.CycleResult
	history *History

	reset     atomic.Bool
	lastError string
}

// NewDispatcher creates a Dispatcher reading from results.
func NewDispatcher(log config.Logger, results <-chan watcher.CycleResult, history *History) *Dispatcher {
	return &Dispatcher{
		log:     log,
		results: results,
		history: history,
	}
}

func (d *Dispatcher) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer d.log.Debug("Dispatcher shut down.")

		d.log.Debug("Dispatcher ready.")
		for {
			select {
			case <-ctx.Done():
				return
			case result := <-d.results:
				d.Handle(result)
			}
		}
	}()
}

// Reset makes the next error be reported even if it repeats the last one.
func (d *Dispatcher) Reset() {
	d.reset.Store(true)
}

// Handle records and logs a single cycle result. It must not be called
// concurrently.
func (d *Dispatcher) Handle(result watcher.CycleResult) {
	d.history.Add(result)

	if d.reset.Swap(false) {
		d.lastError = ""
	}

	for _, item := range result.Items {
		d.logItem(item)
	}

	if len(result.Errors) == 0 {
		d.lastError = ""
		return
	}

	msg := result.Errors[0].Error()
	log := d.log.WithFields(logrus.Fields{
		"cycle":  result.ID.String(),
		"errors": len(result.Errors),
	})
	if msg == d.lastError {
		log.Debugf("Error persists: %s", msg)
		return
	}
	d.lastError = msg

	log.Errorf("Cycle failed: %s", msg)
}

func (d *Dispatcher) logItem(item watcher.NotifyItem) {
	log := d.log.WithFields(logrus.Fields{
		"path":   item.Path,
		"branch": item.Branch,
		"commit": item.Commit.Hash,
	})

	name := item.ProjectName
	if name == "" {
		name = item.Path
	}

	if item.Commit.Minimal {
		log.Infof("New commit on %s/%s", name, item.Branch)
		return
	}

	log.Infof("New commit on %s/%s by %s %s: %s", name, item.Branch, item.Commit.Committer, humanize.Time(item.Commit.Date), item.Commit.Subject)
}
