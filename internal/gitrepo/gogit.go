package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// GoGitClient implements Client in-process with go-git.
type GoGitClient struct {
	timeout time.Duration
}

// NewGoGitClient creates a Client that bounds remote listings by timeout.
func NewGoGitClient(timeout time.Duration) *GoGitClient {
	return &GoGitClient{
		timeout: timeout,
	}
}

func (c *GoGitClient) LastCommit(ctx context.Context, repoPath, branch string) (*Commit, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("can not open repository at %q: %w", repoPath, err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("can not resolve branch %q: %w", branch, err)
	default:
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("can not read commit %s: %w", ref.Hash(), err)
	}

	subject, _, _ := strings.Cut(commit.Message, "\n")
	return &Commit{
		Hash:        commit.Hash.String(),
		Committer:   commit.Author.Name,
		Email:       commit.Author.Email,
		Date:        commit.Author.When,
		Subject:     strings.TrimSpace(subject),
		BranchLabel: branch,
	}, nil
}

func (c *GoGitClient) ListHeads(ctx context.Context, repoPath, remoteName string) ([]Commit, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("can not open repository at %q: %w", repoPath, err)
	}

	remote, err := repo.Remote(remoteName)
	if err != nil {
		return nil, fmt.Errorf("can not look up remote %q: %w", remoteName, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("can not list remote %q: %w", remoteName, err)
	}

	result := []Commit{}
	for _, ref := range refs {
		if !ref.Name().IsBranch() {
			continue
		}

		result = append(result, Commit{
			Hash:        ref.Hash().String(),
			BranchLabel: lastSegment(ref.Name().String(), "/"),
			Minimal:     true,
		})
	}

	return result, nil
}
