package gitrepo

import (
	"context"
	"fmt"

	"github.com/xperimental/upstream-watch/internal/config"
	"github.com/xperimental/upstream-watch/internal/process"
)

// Client reads state of a local repository and lists the heads of its remotes.
type Client interface {
	// LastCommit returns the last commit of a local branch or nil if none is found.
	LastCommit(ctx context.Context, repoPath, branch string) (*Commit, error)
	// ListHeads returns a minimal commit for every branch of the named remote.
	ListHeads(ctx context.Context, repoPath, remote string) ([]Commit, error)
}

// ExecClient implements Client by running the git executable.
type ExecClient struct {
	log     config.Logger
	runner  process.Runner
	gitPath string
}

// NewExecClient creates a Client using the git binary at gitPath.
func NewExecClient(log config.Logger, runner process.Runner, gitPath string) *ExecClient {
	return &ExecClient{
		log:     log,
		runner:  runner,
		gitPath: gitPath,
	}
}

func (c *ExecClient) LastCommit(ctx context.Context, repoPath, branch string) (*Commit, error) {
	out, err := c.runner.Run(ctx, process.Command{
		Executable: c.gitPath,
		Args:       LogArgs(branch),
		Dir:        repoPath,
	})
	if err != nil {
		return nil, err
	}

	commits := ParseLog(out.Stdout)
	if len(commits) == 0 {
		c.log.Debugf("No last commit found for branch %q in %s (exit code %d)", branch, repoPath, out.ExitCode)
		return nil, nil
	}

	return &commits[0], nil
}

func (c *ExecClient) ListHeads(ctx context.Context, repoPath, remote string) ([]Commit, error) {
	out, err := c.runner.Run(ctx, process.Command{
		Executable: c.gitPath,
		Args:       []string{"ls-remote", "--heads", remote},
		Dir:        repoPath,
	})
	if err != nil {
		return nil, err
	}

	commits := ParseHeads(out.Stdout)
	if out.ExitCode != 0 && len(commits) == 0 {
		return nil, fmt.Errorf("git ls-remote for %q exited with code %d", remote, out.ExitCode)
	}

	return commits, nil
}
