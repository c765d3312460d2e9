package isolation

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MaxWorkers caps the pool size regardless of memory.
const MaxWorkers = 8

// RecommendedWorkers sizes a pool so every worker gets perWorker bytes of
// memBytes, clamped to [1, MaxWorkers].
func RecommendedWorkers(memBytes, perWorker uint64) int {
	if perWorker == 0 {
		return 1
	}
	n := memBytes / perWorker
	switch {
	case n < 1:
		return 1
	case n > MaxWorkers:
		return MaxWorkers
	}
	return int(n)
}

// AvailableMemory returns MemAvailable from /proc/meminfo in bytes.
func AvailableMemory() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return parseMemAvailable(bufio.NewScanner(f))
}

func parseMemAvailable(sc *bufio.Scanner) (uint64, error) {
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok || name != "MemAvailable" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			break
		}
		kb, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemAvailable: %w", err)
		}
		return kb * 1024, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemAvailable not found in /proc/meminfo")
}
