package monitoring

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"campaign-orchestrator/core/claim"
)

const stepToken = "step_id: "

// RewardKey is the stat reported separately from the other metrics.
const RewardKey = "reward"

// LogStats is what an evaluation log reports.
type LogStats struct {
	// Step is the training step of the evaluated checkpoint, if logged.
	Step    int64
	HasStep bool
	// Stats maps metric name to value from "Average episode <name>: <value>"
	// lines. Later lines win.
	Stats map[string]float64
}

// ParseLog reads an evaluation log.
func ParseLog(path string) (LogStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LogStats{}, err
	}
	defer f.Close()

	stats := LogStats{Stats: map[string]float64{}}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !stats.HasStep {
			if _, rest, ok := strings.Cut(line, stepToken); ok {
				if step, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64); err == nil {
					stats.Step, stats.HasStep = step, true
				}
			}
		}
		_, rest, ok := strings.Cut(line, claim.CompletionToken)
		if !ok {
			continue
		}
		key, _, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		idx := strings.LastIndex(line, ": ")
		value, err := strconv.ParseFloat(strings.TrimSpace(line[idx+2:]), 64)
		if err != nil {
			continue
		}
		stats.Stats[strings.TrimSpace(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return LogStats{}, fmt.Errorf("read log %s: %w", path, err)
	}
	return stats, nil
}
