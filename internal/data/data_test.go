package data

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xperimental/upstream-watch/internal/gitrepo"
	"github.com/xperimental/upstream-watch/internal/watcher"
)

func TestNewCycle(t *testing.T) {
	id := uuid.Must(uuid.FromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	cycle := NewCycle(watcher.CycleResult{
		ID:       id,
		Start:    start,
		Duration: 1500 * time.Millisecond,
		Errors: []error{
			&watcher.RepositoryError{Path: "/srv/bad", Err: errors.New("invalid git directory")},
		},
		Items: []watcher.NotifyItem{
			{
				Path:   "/srv/app",
				Branch: "main",
				Commit: gitrepo.Commit{Hash: "def456", BranchLabel: "main", Minimal: true},
			},
		},
	})

	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", cycle.ID)
	assert.Equal(t, "1.5s", cycle.Duration)
	assert.False(t, cycle.Failed)
	assert.Equal(t, []string{"/srv/bad: invalid git directory"}, cycle.Errors)

	raw, err := json.Marshal(cycle.Items)
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"path": "/srv/app",
		"branch": "main",
		"commit": {"hash": "def456", "branch": "main", "minimal": true}
	}]`, string(raw))
}

func TestNewCommitFull(t *testing.T) {
	date := time.Now().Add(-3 * 24 * time.Hour)

	commit := NewCommit(gitrepo.Commit{
		Hash:        "abc123",
		Committer:   "Jane Doe",
		Email:       "jane@example.com",
		Date:        date,
		Subject:     "Fix output",
		BranchLabel: "origin/main",
	})

	assert.Equal(t, "abc123", commit.Hash)
	assert.Equal(t, "origin/main", commit.Branch)
	assert.Equal(t, &User{Name: "Jane Doe", Email: "jane@example.com"}, commit.Author)
	assert.Equal(t, "Fix output", commit.Subject)
	assert.Equal(t, "3 days ago", commit.Age)
	require.NotNil(t, commit.Date)
	assert.True(t, date.Equal(*commit.Date))
}
