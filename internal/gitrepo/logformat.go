package gitrepo

import (
	"regexp"
	"strings"
	"time"
)

const (
	// LogFormat renders a commit on one line, every field in a numbered tag.
	LogFormat = "<%H>1 <%an>2 <%ae>3 <%ai>4 <%s>5 <%d>6"

	logDateLayout = "2006-01-02 15:04:05 -0700"
	headPrefix    = "HEAD -> "
	tagPrefix     = "tag: "
)

var (
	logLineRegex  = regexp.MustCompile(`^<(\w+)>1 <(.*?)>2 <(.*?)>3 <(.*?)>4 <(.*?)>5 <\s*\(([^()]+)\)>6`)
	headLineRegex = regexp.MustCompile(`^([0-9a-f]+)\s+(\S+)$`)

	now = time.Now
)

// LogArgs returns the git arguments querying the last commit of rev.
func LogArgs(rev string) []string {
	return []string{"log", "-1", rev, "--pretty=format:" + LogFormat}
}

// ParseLogLine parses a line produced with LogFormat.
func ParseLogLine(line string) (Commit, bool) {
	m := logLineRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return Commit{}, false
	}

	date, err := time.Parse(logDateLayout, m[4])
	if err != nil {
		date = now()
	}

	return Commit{
		Hash:        m[1],
		Committer:   m[2],
		Email:       m[3],
		Date:        date,
		Subject:     m[5],
		BranchLabel: branchLabel(m[6]),
	}, true
}

// ParseLog returns all commits from output, skipping lines that do not parse.
func ParseLog(output string) []Commit {
	result := []Commit{}
	for _, line := range strings.Split(output, "\n") {
		if c, ok := ParseLogLine(line); ok {
			result = append(result, c)
		}
	}
	return result
}

// ParseHeadLine parses a line of "git ls-remote --heads" output.
func ParseHeadLine(line string) (Commit, bool) {
	m := headLineRegex.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Commit{}, false
	}

	return Commit{
		Hash:        m[1],
		BranchLabel: lastSegment(m[2], "/"),
		Minimal:     true,
	}, true
}

// ParseHeads returns all minimal commits from ls-remote output.
func ParseHeads(output string) []Commit {
	result := []Commit{}
	for _, line := range strings.Split(output, "\n") {
		if c, ok := ParseHeadLine(line); ok {
			result = append(result, c)
		}
	}
	return result
}

// branchLabel picks the last ref name of a decoration list like
// "HEAD -> main, origin/main". Tags are only used when nothing else is left.
func branchLabel(refs string) string {
	names := strings.Split(refs, ",")
	for i := len(names) - 1; i >= 0; i-- {
		name := strings.TrimSpace(names[i])
		if strings.HasPrefix(name, tagPrefix) {
			continue
		}

		return strings.TrimPrefix(name, headPrefix)
	}

	return strings.TrimSpace(names[len(names)-1])
}
