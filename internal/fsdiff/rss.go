package fsdiff

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/deploymenttheory/snapm/internal/apferr"
)

// maxRSSFraction caps the fraction of total system memory the running
// process may occupy before content diffs are refused, grounded on
// snapm.fsdiff.fsdiffer._MAX_RSS_FRACTION.
const maxRSSFraction = 0.333

// checkRSSBudget refuses content diffing when the calling process's RSS
// already exceeds maxRSSFraction of total system memory, since
// generating unified diffs over large trees can multiply resident
// memory well beyond the source file sizes, grounded on
// snapm.fsdiff.fsdiffer._should_diff.
func checkRSSBudget() error {
	totalKB, err := readMemTotalKB("/proc/meminfo")
	if err != nil {
		return apferr.Wrap(apferr.System, "read /proc/meminfo", err)
	}
	rssKB, err := readSelfRSSKB("/proc/self/status")
	if err != nil {
		return apferr.Wrap(apferr.System, "read /proc/self/status", err)
	}
	if totalKB == 0 {
		return nil
	}
	if float64(rssKB)/float64(totalKB) > maxRSSFraction {
		return apferr.Errorf(apferr.System,
			"process RSS (%d kB) exceeds %.0f%% of total memory (%d kB); retry without content diffs",
			rssKB, maxRSSFraction*100, totalKB)
	}
	return nil
}

func readMemTotalKB(path string) (int64, error) {
	return readMeminfoField(path, "MemTotal:")
}

func readSelfRSSKB(path string) (int64, error) {
	return readMeminfoField(path, "VmRSS:")
}

func readMeminfoField(path, field string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, field) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, apferr.Errorf(apferr.System, "malformed %s line in %s", field, path)
		}
		return strconv.ParseInt(fields[1], 10, 64)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, apferr.Errorf(apferr.NotFound, "%s not found in %s", field, path)
}
