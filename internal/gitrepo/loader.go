package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xperimental/upstream-watch/internal/config"
)

var (
	// ErrInvalidRepository is returned when a path has no readable git configuration.
	ErrInvalidRepository = errors.New("invalid git directory")
	// ErrUnknownRemote is returned when a branch tracks a remote that is not configured.
	ErrUnknownRemote = errors.New("unknown remote")
)

// Loader reads the branches of local repositories.
type Loader struct {
	log    config.Logger
	client Client
}

// NewLoader creates a Loader using client for local last commits.
func NewLoader(log config.Logger, client Client) *Loader {
	return &Loader{
		log:    log,
		client: client,
	}
}

// ConfigPath returns the location of the configuration file of a working copy.
func ConfigPath(repoPath string) string {
	return filepath.Join(repoPath, ".git", "config")
}

// Load parses the repository configuration at repoPath and returns its local
// branches with upstream and last local commit.
func (l *Loader) Load(ctx context.Context, repoPath string) ([]Branch, error) {
	file, err := os.Open(ConfigPath(repoPath))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrInvalidRepository, repoPath)
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidRepository, repoPath, err)
	default:
	}
	defer file.Close()

	cfg, err := ParseConfig(l.log, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidRepository, repoPath, err)
	}

	branches, err := l.bind(ctx, repoPath, cfg)
	if err != nil {
		return nil, err
	}

	for _, b := range branches {
		l.log.Debugf("Found local branch: %s", b)
	}

	return branches, nil
}

// bind resolves the remote of every branch against the complete remote set
// and looks up the last local commit of tracking branches.
func (l *Loader) bind(ctx context.Context, repoPath string, cfg *RepoConfig) ([]Branch, error) {
	remotes := make(map[string]*Remote, len(cfg.Remotes))
	for _, r := range cfg.Remotes {
		if _, exists := remotes[r.Name]; exists {
			continue
		}
		remotes[r.Name] = NewRemote(r.Name, r.URL)
	}

	result := make([]Branch, 0, len(cfg.Branches))
	for _, section := range cfg.Branches {
		branch := Branch{
			Name: section.Name,
		}

		if section.Remote == "" || section.Merge == "" {
			result = append(result, branch)
			continue
		}

		remote, ok := remotes[section.Remote]
		if !ok {
			return nil, fmt.Errorf("branch %q: %w %q", section.Name, ErrUnknownRemote, section.Remote)
		}
		branch.Remote = NewRemoteBranch(section.Merge, remote)

		last, err := l.client.LastCommit(ctx, repoPath, section.Name)
		if err != nil {
			return nil, fmt.Errorf("can not get last commit of branch %q: %w", section.Name, err)
		}
		branch.LastCommit = last

		result = append(result, branch)
	}

	return result, nil
}
