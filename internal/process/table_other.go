//go:build !linux

package process

import (
	"bufio"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type systemTable struct{}

// List asks ps for the pid and parent pid of every process.
func (systemTable) List() ([]ProcessInfo, error) {
	out, err := exec.Command("ps", "-A", "-o", "pid=", "-o", "ppid=").Output()
	if err != nil {
		return nil, fmt.Errorf("can not run ps: %w", err)
	}

	return parsePS(string(out)), nil
}

func parsePS(out string) []ProcessInfo {
	result := []ProcessInfo{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}

		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}

		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}

		result = append(result, ProcessInfo{
			PID:  pid,
			PPID: ppid,
		})
	}

	return result
}
