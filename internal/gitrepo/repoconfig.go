package gitrepo

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xperimental/upstream-watch/internal/config"
)

var (
	remoteHeaderRegex = regexp.MustCompile(`^\[remote "([^"]+)"\]$`)
	branchHeaderRegex = regexp.MustCompile(`^\[branch "([^"]+)"\]$`)
	valueLineRegex    = regexp.MustCompile(`^\s+([\w-]+)\s*=\s*(.*?)\s*$`)
)

type parseState int

const (
	stateScan parseState = iota
	stateRemote
	stateBranch
)

// RemoteSection is a [remote "name"] section of a repository configuration.
type RemoteSection struct {
	Name string
	URL  string
}

// BranchSection is a [branch "name"] section of a repository configuration.
type BranchSection struct {
	Name   string
	Remote string
	Merge  string
}

// RepoConfig holds the sections of a repository configuration relevant for
// upstream tracking, in file order.
type RepoConfig struct {
	Remotes  []RemoteSection
	Branches []BranchSection
}

// ParseConfig scans a git configuration file for remote and branch sections.
// Section fields are indented "key = value" lines; the first blank or
// unindented line ends a section and is evaluated as a possible header.
func ParseConfig(log config.Logger, r io.Reader) (*RepoConfig, error) {
	cfg := &RepoConfig{}
	state := stateScan

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")

		if state != stateScan {
			if isComment(line) {
				continue
			}

			if m := valueLineRegex.FindStringSubmatch(line); m != nil {
				key, value := strings.ToLower(m[1]), unquote(m[2])

				switch state {
				case stateRemote:
					cfg.setRemoteValue(log, key, value)
				case stateBranch:
					cfg.setBranchValue(log, key, value)
				}
				continue
			}

			state = stateScan
		}

		if m := remoteHeaderRegex.FindStringSubmatch(line); m != nil {
			cfg.Remotes = append(cfg.Remotes, RemoteSection{Name: m[1]})
			state = stateRemote
			continue
		}

		if m := branchHeaderRegex.FindStringSubmatch(line); m != nil {
			cfg.Branches = append(cfg.Branches, BranchSection{Name: m[1]})
			state = stateBranch
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading configuration: %w", err)
	}

	return cfg, nil
}

func (c *RepoConfig) setRemoteValue(log config.Logger, key, value string) {
	remote := &c.Remotes[len(c.Remotes)-1]

	switch {
	case key == "url" && remote.URL == "":
		remote.URL = value
	default:
		log.Debugf("Skipping config value of remote %q: %s=%s", remote.Name, key, value)
	}
}

func (c *RepoConfig) setBranchValue(log config.Logger, key, value string) {
	branch := &c.Branches[len(c.Branches)-1]

	switch key {
	case "remote":
		branch.Remote = value
	case "merge":
		branch.Merge = value
	default:
		log.Debugf("Skipping config value of branch %q: %s=%s", branch.Name, key, value)
	}
}

func isComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";")
}

func unquote(value string) string {
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return value[1 : len(value)-1]
	}

	return value
}
