package executor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

type metricParser func(output string) (float64, error)

// cpu sampling reads /proc/stat twice one second apart
const cpuSampleCommand = "grep '^cpu ' /proc/stat; sleep 1; grep '^cpu ' /proc/stat"

func metricCommand(kind MetricKind) (string, metricParser, bool) {
	switch kind {
	case MetricCPUPercent:
		return cpuSampleCommand, parseCPUSamples, true
	case MetricMemoryPercent:
		return "cat /proc/meminfo", parseMeminfo, true
	case MetricDiskPercent:
		return "df -P /", parseDfUsage, true
	case MetricLoadAverage:
		return "cat /proc/loadavg", parseLoadavg, true
	default:
		return "", nil, false
	}
}

// parseCPUSamples computes busy percent between two "cpu" lines of /proc/stat
func parseCPUSamples(output string) (float64, error) {
	var samples [][]float64
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		vals := make([]float64, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return 0, fmt.Errorf("parse cpu field %q: %w", f, err)
			}
			vals = append(vals, v)
		}
		samples = append(samples, vals)
	}
	if len(samples) < 2 {
		return 0, fmt.Errorf("expected two cpu samples, got %d", len(samples))
	}

	idle := func(v []float64) float64 {
		// idle + iowait
		if len(v) > 4 {
			return v[3] + v[4]
		}
		return v[3]
	}
	total := func(v []float64) float64 {
		var t float64
		for _, x := range v {
			t += x
		}
		return t
	}

	first, second := samples[0], samples[1]
	dTotal := total(second) - total(first)
	if dTotal <= 0 {
		return 0, fmt.Errorf("cpu counters did not advance")
	}
	dIdle := idle(second) - idle(first)
	return (dTotal - dIdle) / dTotal * 100, nil
}

// parseMeminfo returns used memory percent from /proc/meminfo
func parseMeminfo(output string) (float64, error) {
	values := make(map[string]float64)
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		values[key] = v
	}

	total := values["MemTotal"]
	if total <= 0 {
		return 0, fmt.Errorf("MemTotal missing")
	}
	avail, ok := values["MemAvailable"]
	if !ok {
		avail = values["MemFree"] + values["Buffers"] + values["Cached"]
	}
	return (total - avail) / total * 100, nil
}

// parseDfUsage reads the Use% column of POSIX df output
func parseDfUsage(output string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("unexpected df output")
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return 0, fmt.Errorf("unexpected df row %q", lines[len(lines)-1])
	}
	return strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
}

// parseLoadavg returns the one-minute load average
func parseLoadavg(output string) (float64, error) {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty loadavg")
	}
	return strconv.ParseFloat(fields[0], 64)
}
