package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xperimental/upstream-watch/internal/config"
	"github.com/xperimental/upstream-watch/internal/gitrepo"
	"github.com/xperimental/upstream-watch/internal/process"
	"github.com/xperimental/upstream-watch/internal/resolver"
)

type fakeLoader struct {
	lock     sync.Mutex
	branches map[string][]gitrepo.Branch
	errs     map[string]error
	panics   map[string]bool
	calls    int
	ctxErrs  []error
}

func (f *fakeLoader) Load(ctx context.Context, repoPath string) ([]gitrepo.Branch, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.calls++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.panics[repoPath] {
		panic("broken loader")
	}
	if err := f.errs[repoPath]; err != nil {
		return nil, err
	}
	return f.branches[repoPath], nil
}

func (f *fakeLoader) callCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

type fakeResolver struct {
	commits []gitrepo.Commit
	err     error
	caches  []*resolver.Cache
}

func (f *fakeResolver) Resolve(_ context.Context, cache *resolver.Cache, _ *gitrepo.RemoteBranch, _ string) ([]gitrepo.Commit, error) {
	f.caches = append(f.caches, cache)
	return f.commits, f.err
}

func newWatcher(paths []string, loader BranchLoader, res RemoteResolver) *Watcher {
	log, _ := test.NewNullLogger()
	return New(log, config.Watch{
		Paths:        paths,
		Period:       time.Hour,
		RetryDelay:   time.Hour,
		ResultBuffer: 4,
	}, loader, res)
}

func receive(t *testing.T, w *Watcher) CycleResult {
	t.Helper()

	select {
	case r := <-w.Results():
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no cycle result received")
	}
	return CycleResult{}
}

func TestRunCycleNewCommit(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "app")
	loader := &fakeLoader{
		branches: map[string][]gitrepo.Branch{
			repo: {trackedBranch("main", "abc123")},
		},
	}
	res := &fakeResolver{commits: []gitrepo.Commit{{Hash: "def456", BranchLabel: "main"}}}
	w := newWatcher([]string{repo}, loader, res)

	result := w.RunCycle(context.Background())
	assert.Empty(t, result.Errors)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "def456", result.Items[0].Commit.Hash)
	assert.Equal(t, "main", result.Items[0].Branch)
	assert.Equal(t, repo, result.Items[0].Path)
	assert.Equal(t, "", result.Items[0].ProjectName)

	hash, ok := w.detector.lastHash(repo, "main")
	assert.True(t, ok)
	assert.Equal(t, "def456", hash)

	second := w.RunCycle(context.Background())
	assert.Empty(t, second.Errors)
	assert.Empty(t, second.Items)
	assert.NotEqual(t, result.ID, second.ID)
}

func TestRunCycleAlreadyKnown(t *testing.T) {
	loader := &fakeLoader{
		branches: map[string][]gitrepo.Branch{
			"repo": {trackedBranch("main", "abc123")},
		},
	}
	res := &fakeResolver{commits: []gitrepo.Commit{{Hash: "def456", BranchLabel: "main"}}}
	w := newWatcher([]string{"repo"}, loader, res)
	w.detector.setLastHash("repo", "main", "def456")

	result := w.RunCycle(context.Background())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Items)
	assert.False(t, result.Failed())
}

func TestRunCyclePartialFailure(t *testing.T) {
	dir := t.TempDir()
	good, bad, other := filepath.Join(dir, "good"), filepath.Join(dir, "bad"), filepath.Join(dir, "other")
	cause := gitrepo.ErrInvalidRepository
	loader := &fakeLoader{
		branches: map[string][]gitrepo.Branch{
			good:  {trackedBranch("main", "abc123")},
			other: {trackedBranch("main", "abc123"), {Name: "local"}},
		},
		errs: map[string]error{
			bad: cause,
		},
	}
	res := &fakeResolver{commits: []gitrepo.Commit{{Hash: "def456", BranchLabel: "main"}}}
	w := newWatcher([]string{good, bad, other}, loader, res)

	result := w.RunCycle(context.Background())
	require.Len(t, result.Errors, 1)
	var repoErr *RepositoryError
	require.ErrorAs(t, result.Errors[0], &repoErr)
	assert.Equal(t, bad, repoErr.Path)
	assert.ErrorIs(t, result.Errors[0], cause)

	require.Len(t, result.Items, 2)
	assert.Equal(t, good, result.Items[0].Path)
	assert.Equal(t, other, result.Items[1].Path)
	assert.False(t, result.Failed())

	require.Len(t, res.caches, 2)
	assert.NotSame(t, res.caches[0], res.caches[1])
}

func TestRunCycleAllFailed(t *testing.T) {
	loader := &fakeLoader{
		errs: map[string]error{"one": errors.New("boom")},
	}
	w := newWatcher([]string{"one"}, loader, &fakeResolver{})

	result := w.RunCycle(context.Background())
	assert.True(t, result.Failed())
}

func TestRunCycleResolveError(t *testing.T) {
	loader := &fakeLoader{
		branches: map[string][]gitrepo.Branch{
			"repo": {trackedBranch("main", "abc123")},
		},
	}
	cause := errors.New("listing failed")
	w := newWatcher([]string{"repo"}, loader, &fakeResolver{err: cause})

	result := w.RunCycle(context.Background())
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], cause)
	assert.Empty(t, result.Items)
}

func TestRunCycleRecoversPanic(t *testing.T) {
	loader := &fakeLoader{
		panics: map[string]bool{"broken": true},
		branches: map[string][]gitrepo.Branch{
			"fine": {trackedBranch("main", "abc123")},
		},
	}
	res := &fakeResolver{commits: []gitrepo.Commit{{Hash: "def456", BranchLabel: "main"}}}
	w := newWatcher([]string{"broken", "fine"}, loader, res)

	result := w.RunCycle(context.Background())
	require.Len(t, result.Errors, 1)
	assert.EqualError(t, result.Errors[0], "broken: unexpected failure: broken loader")
	assert.Len(t, result.Items, 1)
}

func TestRunCycleIgnoresCancellation(t *testing.T) {
	loader := &fakeLoader{}
	w := newWatcher([]string{"a", "b"}, loader, &fakeResolver{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.RunCycle(ctx)
	assert.Equal(t, []error{nil, nil}, loader.ctxErrs)
}

func TestRunCycleFallbackMinimal(t *testing.T) {
	log, _ := test.NewNullLogger()
	branch := gitrepo.Branch{
		Name:       "main",
		Remote:     gitrepo.NewRemoteBranch("refs/heads/main", gitrepo.NewRemote("origin", "https://example.com/app.git")),
		LastCommit: &gitrepo.Commit{Hash: "abc123"},
	}
	loader := &fakeLoader{
		branches: map[string][]gitrepo.Branch{"repo": {branch}},
	}
	client := &headsClient{heads: []gitrepo.Commit{{Hash: "def456", BranchLabel: "main", Minimal: true}}}
	res, err := resolver.New(log, failingRunner{}, client, "ssh")
	require.NoError(t, err)
	w := newWatcher([]string{"repo"}, loader, res)

	result := w.RunCycle(context.Background())
	require.Len(t, result.Items, 1)
	commit := result.Items[0].Commit
	assert.Equal(t, "def456", commit.Hash)
	assert.True(t, commit.Minimal)
	assert.Empty(t, commit.Committer)
	assert.Empty(t, commit.Email)
	assert.Empty(t, commit.Subject)
}

type headsClient struct {
	heads []gitrepo.Commit
}

func (c *headsClient) LastCommit(context.Context, string, string) (*gitrepo.Commit, error) {
	return nil, nil
}

func (c *headsClient) ListHeads(context.Context, string, string) ([]gitrepo.Commit, error) {
	return c.heads, nil
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, process.Command) (process.Output, error) {
	return process.Output{}, errors.New("remote shell must not be used")
}

func TestLoopReload(t *testing.T) {
	loader := &fakeLoader{
		branches: map[string][]gitrepo.Branch{
			"repo": {trackedBranch("main", "abc123")},
		},
	}
	res := &fakeResolver{commits: []gitrepo.Commit{{Hash: "def456", BranchLabel: "main"}}}
	w := newWatcher([]string{"repo"}, loader, res)

	wg := &sync.WaitGroup{}
	w.Start(context.Background(), wg)
	assert.True(t, w.IsRunning())

	first := receive(t, w)
	assert.Len(t, first.Items, 1)

	w.Reload()
	second := receive(t, w)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "def456", second.Items[0].Commit.Hash)

	w.Stop()
	wg.Wait()
	assert.False(t, w.IsRunning())
}

func TestLoopStartIsIdempotent(t *testing.T) {
	loader := &fakeLoader{}
	w := newWatcher([]string{"repo"}, loader, &fakeResolver{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := &sync.WaitGroup{}
	w.Start(ctx, wg)
	w.Start(ctx, wg)

	receive(t, w)
	assert.Never(t, func() bool {
		return loader.callCount() > 1
	}, 200*time.Millisecond, 10*time.Millisecond)

	cancel()
	wg.Wait()
	assert.False(t, w.IsRunning())

	w.Start(context.Background(), wg)
	receive(t, w)
	w.Stop()
	wg.Wait()
	assert.Equal(t, 2, loader.callCount())
}

func TestLoopRetriesFailedCycle(t *testing.T) {
	log, _ := test.NewNullLogger()
	loader := &fakeLoader{
		errs: map[string]error{"repo": errors.New("boom")},
	}
	w := New(log, config.Watch{
		Paths:        []string{"repo"},
		Period:       time.Hour,
		RetryDelay:   10 * time.Millisecond,
		ResultBuffer: 4,
	}, loader, &fakeResolver{})

	wg := &sync.WaitGroup{}
	w.Start(context.Background(), wg)

	assert.True(t, receive(t, w).Failed())
	assert.True(t, receive(t, w).Failed())

	w.Stop()
	wg.Wait()
}

func TestPublishDropsOldest(t *testing.T) {
	log, _ := test.NewNullLogger()
	w := New(log, config.Watch{ResultBuffer: 2}, &fakeLoader{}, &fakeResolver{})

	results := []CycleResult{}
	for i := 0; i < 3; i++ {
		r := CycleResult{Duration: time.Duration(i)}
		results = append(results, r)
		w.publish(r)
	}

	assert.Equal(t, results[1], <-w.Results())
	assert.Equal(t, results[2], <-w.Results())
}

func TestLoopReloadWhileStopped(t *testing.T) {
	loader := &fakeLoader{
		branches: map[string][]gitrepo.Branch{
			"repo": {trackedBranch("main", "abc123")},
		},
	}
	res := &fakeResolver{commits: []gitrepo.Commit{{Hash: "def456", BranchLabel: "main"}}}
	w := newWatcher([]string{"repo"}, loader, res)

	first := w.RunCycle(context.Background())
	require.Len(t, first.Items, 1)

	w.Reload()

	wg := &sync.WaitGroup{}
	w.Start(context.Background(), wg)

	result := receive(t, w)
	assert.Len(t, result.Items, 1)
	assert.Never(t, func() bool {
		return loader.callCount() > 2
	}, 200*time.Millisecond, 10*time.Millisecond)

	w.Stop()
	wg.Wait()
}

func TestLoopWithoutPaths(t *testing.T) {
	loader := &fakeLoader{}
	w := newWatcher(nil, loader, &fakeResolver{})

	wg := &sync.WaitGroup{}
	w.Start(context.Background(), wg)
	assert.False(t, w.IsRunning())

	wg.Wait()
	assert.Equal(t, 0, loader.callCount())
	assert.Empty(t, w.Results())
}

func TestRunCycleReportsRemoteTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	loader := &fakeLoader{
		branches: map[string][]gitrepo.Branch{
			"repo": {trackedBranch("main", "abc123")},
		},
	}
	client := &headsClient{heads: []gitrepo.Commit{{Hash: "def456", BranchLabel: "main", Minimal: true}}}
	res, err := resolver.New(log, timeoutRunner{}, client, "ssh")
	require.NoError(t, err)
	w := newWatcher([]string{"repo"}, loader, res)

	result := w.RunCycle(context.Background())
	assert.True(t, result.Failed())
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], process.ErrTimeout)

	var resErr *resolver.ResolutionError
	assert.ErrorAs(t, result.Errors[0], &resErr)
}

type timeoutRunner struct{}

func (timeoutRunner) Run(context.Context, process.Command) (process.Output, error) {
	return process.Output{}, process.ErrTimeout
}
