package resolver

import (
	"context"
	"fmt"

	"github.com/google/shlex"
	"github.com/xperimental/upstream-watch/internal/config"
	"github.com/xperimental/upstream-watch/internal/gitrepo"
	"github.com/xperimental/upstream-watch/internal/process"
)

// ResolutionError wraps any failure while resolving the remote state of a branch.
type ResolutionError struct {
	Branch string
	Remote string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("can not resolve remote commits of %s on %s: %s", e.Branch, e.Remote, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver finds the commits a remote currently has. It first asks the remote
// host directly over the remote shell and falls back to listing the heads of
// the remote through the local client when that query yields no commits.
// A remote shell that fails to start or times out is an error.
type Resolver struct {
	log     config.Logger
	runner  process.Runner
	client  gitrepo.Client
	ssh     string
	sshArgs []string
}

// New creates a Resolver. sshCommand is split like a shell would split it,
// e.g. "ssh -o BatchMode=yes".
func New(log config.Logger, runner process.Runner, client gitrepo.Client, sshCommand string) (*Resolver, error) {
	parts, err := shlex.Split(sshCommand)
	if err != nil {
		return nil, fmt.Errorf("can not parse ssh command %q: %w", sshCommand, err)
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("ssh command can not be empty")
	}

	return &Resolver{
		log:     log,
		runner:  runner,
		client:  client,
		ssh:     parts[0],
		sshArgs: parts[1:],
	}, nil
}

// Resolve returns the remote commits relevant for branch. Results are stored
// in cache, which is only valid for a single pass over repoPath.
func (r *Resolver) Resolve(ctx context.Context, cache *Cache, branch *gitrepo.RemoteBranch, repoPath string) ([]gitrepo.Commit, error) {
	remote := branch.Remote
	key := cacheKey{
		remote: remote.Name,
		ref:    branch.Path,
		path:   repoPath,
	}

	if commits, ok := cache.get(key); ok {
		r.log.Debugf("Using cached commits for %s", branch)
		return commits, nil
	}

	if !remote.Query.Empty() {
		commits, err := r.queryRemote(ctx, remote.Query, branch.Name)
		switch {
		case err != nil:
			return nil, &ResolutionError{
				Branch: branch.Name,
				Remote: remote.Name,
				Err:    err,
			}
		case len(commits) > 0:
			cache.put(key, commits)
			return commits, nil
		default:
			r.log.Debugf("Remote query for %s returned no commits, falling back to listing", branch)
		}
	}

	commits, err := r.client.ListHeads(ctx, repoPath, remote.Name)
	if err != nil {
		return nil, &ResolutionError{
			Branch: branch.Name,
			Remote: remote.Name,
			Err:    err,
		}
	}
	cache.put(key, commits)

	return commits, nil
}

func (r *Resolver) queryRemote(ctx context.Context, query gitrepo.Query, branch string) ([]gitrepo.Commit, error) {
	args := append(append([]string{}, r.sshArgs...), query.Args(branch)...)

	out, err := r.runner.Run(ctx, process.Command{
		Executable: r.ssh,
		Args:       args,
	})
	if err != nil {
		return nil, err
	}

	commits := gitrepo.ParseLog(out.Stdout)
	if out.ExitCode != 0 {
		r.log.Debugf("Remote query on %s exited with code %d", query.Destination(), out.ExitCode)
	}

	return commits, nil
}
