package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/xperimental/upstream-watch/internal/resolver"
)

// RepositoryError is a failure while checking one repository path.
type RepositoryError struct {
	Path string
	Err  error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// CycleResult is the outcome of one pass over all repository paths.
type CycleResult struct {
	ID       uuid.UUID
	Start    time.Time
	Duration time.Duration
	Errors   []error
	Items    []NotifyItem
}

// Failed reports whether the cycle only produced errors.
func (r CycleResult) Failed() bool {
	return len(r.Errors) > 0 && len(r.Items) == 0
}

// RunCycle checks every repository path once. Failures of single repositories
// are collected in the result and never stop the cycle. Cancellation of ctx
// does not abort a running cycle.
func (w *Watcher) RunCycle(ctx context.Context) (result CycleResult) {
	ctx = context.WithoutCancel(ctx)
	result = CycleResult{
		ID:     uuid.NewV4(),
		Start:  w.now(),
		Errors: []error{},
		Items:  []NotifyItem{},
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("Unexpected failure in cycle %s: %v", result.ID, r)
			result.Errors = []error{fmt.Errorf("unexpected failure: %v", r)}
			result.Items = []NotifyItem{}
		}
		result.Duration = w.now().Sub(result.Start)
	}()

	for _, path := range w.paths {
		items, err := w.checkRepository(ctx, path)
		result.Items = append(result.Items, items...)
		if err != nil {
			w.log.Errorf("Error checking %s: %s", path, err)
			result.Errors = append(result.Errors, &RepositoryError{
				Path: path,
				Err:  err,
			})
		}
	}

	return result
}

// checkRepository returns the items found before an error as well, since
// their hashes are already recorded by the detector.
func (w *Watcher) checkRepository(ctx context.Context, path string) (items []NotifyItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()

	cache := resolver.NewCache()

	branches, err := w.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	project := projectName(path)
	tracked := 0
	for _, branch := range branches {
		if !branch.Tracked() {
			continue
		}
		tracked++

		remote, err := w.resolver.Resolve(ctx, cache, branch.Remote, path)
		if err != nil {
			return items, err
		}

		item, ok := w.detector.Check(path, project, branch, remote)
		if !ok {
			continue
		}

		w.log.Debugf("New commit on %s in %s: %s", branch.Remote, path, item.Commit)
		items = append(items, item)
	}

	if tracked == 0 {
		w.log.Debugf("No tracked branches in %s", path)
	}

	return items, nil
}

// projectName is the directory name of an existing repository path.
func projectName(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	return filepath.Base(filepath.Clean(path))
}
