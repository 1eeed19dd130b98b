package data

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xperimental/upstream-watch/internal/gitrepo"
	"github.com/xperimental/upstream-watch/internal/watcher"
)

type Status struct {
	Running   bool     `json:"running"`
	Paths     []string `json:"paths"`
	LastCycle *Cycle   `json:"lastCycle,omitempty"`
}

type CycleList struct {
	Cycles []Cycle `json:"cycles"`
}

type Cycle struct {
	ID       string    `json:"id"`
	Start    time.Time `json:"start"`
	Duration string    `json:"duration"`
	Failed   bool      `json:"failed"`
	Errors   []string  `json:"errors"`
	Items    []Item    `json:"items"`
}

type Item struct {
	Path    string `json:"path"`
	Project string `json:"project,omitempty"`
	Branch  string `json:"branch"`
	Commit  Commit `json:"commit"`
}

type Commit struct {
	Hash    string     `json:"hash"`
	Branch  string     `json:"branch"`
	Minimal bool       `json:"minimal"`
	Subject string     `json:"subject,omitempty"`
	Author  *User      `json:"author,omitempty"`
	Date    *time.Time `json:"date,omitempty"`
	Age     string     `json:"age,omitempty"`
}

type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewCycle converts a cycle result into its wire format.
func NewCycle(result watcher.CycleResult) Cycle {
	cycle := Cycle{
		ID:       result.ID.String(),
		Start:    result.Start,
		Duration: result.Duration.String(),
		Failed:   result.Failed(),
		Errors:   make([]string, 0, len(result.Errors)),
		Items:    make([]Item, 0, len(result.Items)),
	}

	for _, err := range result.Errors {
		cycle.Errors = append(cycle.Errors, err.Error())
	}

	for _, item := range result.Items {
		cycle.Items = append(cycle.Items, Item{
			Path:    item.Path,
			Project: item.ProjectName,
			Branch:  item.Branch,
			Commit:  NewCommit(item.Commit),
		})
	}

	return cycle
}

func NewCycleList(results []watcher.CycleResult) CycleList {
	list := CycleList{
		Cycles: make([]Cycle, 0, len(results)),
	}
	for _, r := range results {
		list.Cycles = append(list.Cycles, NewCycle(r))
	}
	return list
}

func NewCommit(c gitrepo.Commit) Commit {
	commit := Commit{
		Hash:    c.Hash,
		Branch:  c.BranchLabel,
		Minimal: c.Minimal,
	}
	if c.Minimal {
		return commit
	}

	date := c.Date
	commit.Subject = c.Subject
	commit.Author = &User{
		Name:  c.Committer,
		Email: c.Email,
	}
	commit.Date = &date
	commit.Age = humanize.Time(date)
	return commit
}
