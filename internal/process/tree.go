package process

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/xperimental/upstream-watch/internal/config"
)

// ProcessInfo is one entry of the OS process table.
type ProcessInfo struct {
	PID  int
	PPID int
}

// ProcessTable lists the processes currently known to the OS.
type ProcessTable interface {
	List() ([]ProcessInfo, error)
}

// KillFunc sends a kill to a single process.
type KillFunc func(pid int) error

// OSTreeKiller terminates process trees using the OS process table.
type OSTreeKiller struct {
	log   config.Logger
	table ProcessTable
	kill  KillFunc
}

// NewTreeKiller returns a TreeKiller for the current platform.
func NewTreeKiller(log config.Logger) *OSTreeKiller {
	return &OSTreeKiller{
		log:   log,
		table: systemTable{},
		kill:  killProcess,
	}
}

// TerminateTree kills all descendants of pid, leaves first, and pid itself last.
// Failures of single kills are ignored; an error is only returned when the
// process table can not be read, in which case the root is still killed.
func (k *OSTreeKiller) TerminateTree(pid int) error {
	procs, err := k.table.List()
	if err != nil {
		k.kill(pid)
		return fmt.Errorf("can not list processes: %w", err)
	}

	for _, p := range PostOrder(procs, pid) {
		if err := k.kill(p); err != nil {
			k.log.Debugf("Kill of %d failed: %s", p, err)
		}
	}

	return nil
}

// PostOrder returns root and all of its descendants ordered so that every
// process comes after all of its own descendants. The root is always last.
func PostOrder(procs []ProcessInfo, root int) []int {
	children := make(map[int][]int)
	for _, p := range procs {
		if p.PID == p.PPID {
			continue
		}
		children[p.PPID] = append(children[p.PPID], p.PID)
	}
	for _, c := range children {
		sort.Ints(c)
	}

	result := []int{}
	visited := map[int]bool{}
	var walk func(pid int)
	walk = func(pid int) {
		if visited[pid] {
			return
		}
		visited[pid] = true

		for _, c := range children[pid] {
			walk(c)
		}
		result = append(result, pid)
	}
	walk(root)

	return result
}

func killProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}
