package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const procRoot = "/proc"

type systemTable struct{}

// List reads the parent of every process from /proc/<pid>/stat.
func (systemTable) List() ([]ProcessInfo, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("can not read %s: %w", procRoot, err)
	}

	result := []ProcessInfo{}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		stat, err := os.ReadFile(filepath.Join(procRoot, e.Name(), "stat"))
		if err != nil {
			// process exited in the meantime
			continue
		}

		ppid, ok := parseStatPPID(string(stat))
		if !ok {
			continue
		}

		result = append(result, ProcessInfo{
			PID:  pid,
			PPID: ppid,
		})
	}

	return result, nil
}

// parseStatPPID extracts the parent pid from the contents of /proc/<pid>/stat.
// The command name is enclosed in parentheses and may itself contain spaces.
func parseStatPPID(stat string) (int, bool) {
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, false
	}

	fields := strings.Fields(stat[end+1:])
	if len(fields) < 2 {
		return 0, false
	}

	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}

	return ppid, true
}
