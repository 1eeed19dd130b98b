package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xperimental/upstream-watch/internal/config"
	"github.com/xperimental/upstream-watch/internal/gitrepo"
	"github.com/xperimental/upstream-watch/internal/resolver"
)

// BranchLoader reads the local branches of a repository.
type BranchLoader interface {
	Load(ctx context.Context, repoPath string) ([]gitrepo.Branch, error)
}

// RemoteResolver returns the commits of the remote a branch tracks.
type RemoteResolver interface {
	Resolve(ctx context.Context, cache *resolver.Cache, branch *gitrepo.RemoteBranch, repoPath string) ([]gitrepo.Commit, error)
}

// Watcher polls a set of repositories for upstream changes.
type Watcher struct {
	log      config.Logger
	loader   BranchLoader
	resolver RemoteResolver
	detector *Detector
	now      func() time.Time

	paths      []string
	period     time.Duration
	retryDelay time.Duration
	results    chan CycleResult

	running  atomic.Bool
	reload   atomic.Bool
	reloadCh chan struct{}
	stopLock sync.Mutex
	stop     context.CancelFunc
}

// New creates a Watcher for the repositories in cfg.
func New(log config.Logger, cfg config.Watch, loader BranchLoader, resolver RemoteResolver) *Watcher {
	if cfg.ResultBuffer < 1 {
		cfg.ResultBuffer = 1
	}

	return &Watcher{
		log:      log,
		loader:   loader,
		resolver: resolver,
		detector: NewDetector(),
		now:      time.Now,

		paths:      cfg.Paths,
		period:     cfg.Period,
		retryDelay: cfg.RetryDelay,
		results:    make(chan CycleResult, cfg.ResultBuffer),

		reloadCh: make(chan struct{}, 1),
	}
}

// Results delivers one CycleResult per finished cycle. When the consumer falls
// behind, the oldest pending results are dropped.
func (w *Watcher) Results() <-chan CycleResult {
	return w.results
}

// IsRunning reports whether the poll loop is active.
func (w *Watcher) IsRunning() bool {
	return w.running.Load()
}

// Start runs the poll loop in a new goroutine. Calling Start while the loop
// is running or without any repository paths has no effect.
func (w *Watcher) Start(ctx context.Context, wg *sync.WaitGroup) {
	if len(w.paths) == 0 {
		w.log.Warn("No repository paths configured, not starting.")
		return
	}

	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug("Watcher already running.")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.stopLock.Lock()
	w.stop = cancel
	w.stopLock.Unlock()

	wg.Add(1)
	go w.runLoop(ctx, cancel, wg)
}

// Stop asks the poll loop to end. A running cycle is finished first.
func (w *Watcher) Stop() {
	w.stopLock.Lock()
	defer w.stopLock.Unlock()

	if w.stop != nil {
		w.stop()
	}
}

// Reload forgets all reported commits before the next cycle and cuts the
// current wait short.
func (w *Watcher) Reload() {
	w.reload.Store(true)

	select {
	case w.reloadCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) runLoop(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.running.Store(false)
	defer cancel()

	w.log.Infof("Watching %d repositories every %s", len(w.paths), w.period)
	for {
		if w.reload.Swap(false) {
			select {
			case <-w.reloadCh:
			default:
			}

			w.log.Info("Reload requested, forgetting reported commits.")
			w.detector.Reset()
		}

		result := w.RunCycle(ctx)
		w.log.Debugf("Cycle %s done in %s: %d items, %d errors", result.ID, result.Duration, len(result.Items), len(result.Errors))
		w.publish(result)

		delay := w.period
		if result.Failed() {
			delay = w.retryDelay
		}
		w.log.Debugf("Next cycle %s", humanize.Time(w.now().Add(delay)))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Debug("Watcher stopped.")
			return
		case <-w.reloadCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (w *Watcher) publish(result CycleResult) {
	for {
		select {
		case w.results <- result:
			return
		default:
		}

		select {
		case dropped := <-w.results:
			w.log.Warnf("Result buffer full, dropping cycle %s", dropped.ID)
		default:
		}
	}
}
