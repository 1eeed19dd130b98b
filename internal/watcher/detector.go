package watcher

import (
	"github.com/xperimental/upstream-watch/internal/gitrepo"
)

// NotifyItem reports a remote commit that is new for a local branch.
type NotifyItem struct {
	Path        string
	ProjectName string
	Branch      string
	Commit      gitrepo.Commit
}

// Detector remembers the last reported remote hash per repository path and
// branch. It is owned by a single goroutine.
type Detector struct {
	lastHashes map[string]map[string]string
}

// NewDetector returns a Detector without any known hashes.
func NewDetector() *Detector {
	return &Detector{
		lastHashes: make(map[string]map[string]string),
	}
}

// Check compares the remote commit matching the upstream of branch with the
// local last commit. An item is returned only once per remote hash.
func (d *Detector) Check(path, project string, branch gitrepo.Branch, remote []gitrepo.Commit) (NotifyItem, bool) {
	if !branch.Tracked() {
		return NotifyItem{}, false
	}

	commit, found := findCommit(remote, branch.Remote.Name)
	if !found {
		return NotifyItem{}, false
	}

	if commit.Hash == branch.LastCommit.Hash {
		return NotifyItem{}, false
	}

	if last, ok := d.lastHash(path, branch.Name); ok && last == commit.Hash {
		return NotifyItem{}, false
	}
	d.setLastHash(path, branch.Name, commit.Hash)

	return NotifyItem{
		Path:        path,
		ProjectName: project,
		Branch:      branch.Name,
		Commit:      commit,
	}, true
}

// Reset forgets all known hashes, so every differing remote is reported again.
func (d *Detector) Reset() {
	d.lastHashes = make(map[string]map[string]string)
}

func (d *Detector) lastHash(path, branch string) (string, bool) {
	hash, ok := d.lastHashes[path][branch]
	return hash, ok
}

func (d *Detector) setLastHash(path, branch, hash string) {
	branches, ok := d.lastHashes[path]
	if !ok {
		branches = make(map[string]string)
		d.lastHashes[path] = branches
	}
	branches[branch] = hash
}

func findCommit(commits []gitrepo.Commit, label string) (gitrepo.Commit, bool) {
	for _, c := range commits {
		if c.BranchLabel == label {
			return c, true
		}
	}

	return gitrepo.Commit{}, false
}
