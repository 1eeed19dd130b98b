package gitrepo

import (
	"fmt"
	"strings"
	"time"
)

// Remote is a named upstream location of a repository.
type Remote struct {
	Name  string
	URL   string
	Query Query
}

// NewRemote creates a Remote and derives its remote-shell query from url.
func NewRemote(name, url string) *Remote {
	return &Remote{
		Name:  name,
		URL:   url,
		Query: BuildQuery(url),
	}
}

func (r *Remote) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.URL)
}

// RemoteBranch is the remote-side branch a local branch follows.
type RemoteBranch struct {
	Name   string
	Path   string
	Remote *Remote
}

// NewRemoteBranch creates a RemoteBranch for the ref path, e.g. refs/heads/main.
func NewRemoteBranch(path string, remote *Remote) *RemoteBranch {
	return &RemoteBranch{
		Name:   lastSegment(path, "/"),
		Path:   path,
		Remote: remote,
	}
}

func (b *RemoteBranch) String() string {
	return b.Remote.Name + "/" + b.Name
}

// Commit is a commit as reported by git. Minimal commits only carry Hash and
// BranchLabel.
type Commit struct {
	Hash        string
	Committer   string
	Email       string
	Date        time.Time
	Subject     string
	BranchLabel string
	Minimal     bool
}

func (c Commit) String() string {
	if c.Minimal {
		return fmt.Sprintf("[%s, %s]", c.Hash, c.BranchLabel)
	}

	return fmt.Sprintf("[%s, %s, %s, %s, %s]", c.Committer, c.Subject, c.Email, c.Hash, c.BranchLabel)
}

// Branch is a local branch with its optional upstream and last local commit.
type Branch struct {
	Name       string
	Remote     *RemoteBranch
	LastCommit *Commit
}

// Tracked reports whether the branch takes part in remote comparison.
func (b Branch) Tracked() bool {
	return b.Remote != nil && b.LastCommit != nil
}

func (b Branch) String() string {
	last := "<not found>"
	if b.LastCommit != nil {
		last = b.LastCommit.String()
	}

	if b.Remote == nil {
		return fmt.Sprintf("%s without remote branch; last commit %s", b.Name, last)
	}

	return fmt.Sprintf("%s tracking %s; last commit %s", b.Name, b.Remote, last)
}

func lastSegment(s, sep string) string {
	parts := strings.Split(s, sep)
	return parts[len(parts)-1]
}
