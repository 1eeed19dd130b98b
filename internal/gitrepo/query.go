package gitrepo

import (
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	sshURLRegex = regexp.MustCompile(`^ssh://([\w.-]+)@([^:/\s]+)(?::(\d+))?(/\S*)?$`)
	scpURLRegex = regexp.MustCompile(`^([\w.-]+)@([^:/\s]+)(?:[:/](\S*))?$`)
)

// Query describes how to ask a remote for the last commit of a branch over the
// remote shell. The zero value means no direct query is available.
type Query struct {
	User string
	Host string
	Port string
	Dir  string
}

// BuildQuery derives the remote-shell query from a remote URL of the form
// [ssh://]user@host[:port][/path] or user@host:path.
func BuildQuery(url string) Query {
	if m := sshURLRegex.FindStringSubmatch(url); m != nil {
		return Query{
			User: m[1],
			Host: m[2],
			Port: m[3],
			Dir:  remoteDir(m[4]),
		}
	}

	if m := scpURLRegex.FindStringSubmatch(url); m != nil {
		return Query{
			User: m[1],
			Host: m[2],
			Dir:  remoteDir(m[3]),
		}
	}

	return Query{}
}

// remoteDir normalises a path from the URL. Paths relative to the home
// directory are returned relative, because the remote shell starts there.
func remoteDir(path string) string {
	switch {
	case strings.HasPrefix(path, "/~/"):
		path = path[3:]
	case strings.HasPrefix(path, "~/"):
		path = path[2:]
	case path == "~" || path == "/~":
		path = ""
	}

	return path
}

// Empty reports whether the URL did not match a supported remote-shell form.
func (q Query) Empty() bool {
	return q.Host == ""
}

// Destination returns the user@host argument for the remote shell.
func (q Query) Destination() string {
	return q.User + "@" + q.Host
}

// RemoteCommand returns the shell command line executed on the remote host.
func (q Query) RemoteCommand(branch string) string {
	log := shellquote.Join(append([]string{"git"}, LogArgs(branch)...)...)
	if q.Dir == "" {
		return log
	}

	return "cd " + shellquote.Join(q.Dir) + " && " + log
}

// Args returns the remote-shell arguments querying branch. It returns nil for
// an empty query.
func (q Query) Args(branch string) []string {
	if q.Empty() {
		return nil
	}

	args := []string{"-n"}
	if q.Port != "" {
		args = append(args, "-p", q.Port)
	}

	return append(args, q.Destination(), q.RemoteCommand(branch))
}

func (q Query) String() string {
	if q.Empty() {
		return ""
	}

	return strings.Join(q.Args("<branch>"), " ")
}
