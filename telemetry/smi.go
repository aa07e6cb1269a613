package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SMI shells out to nvidia-smi. Slower and coarser (MiB resolution) than
// NVML but works wherever the driver tools are installed.
type SMI struct {
	Path string
}

func NewSMI() *SMI { return &SMI{Path: "nvidia-smi"} }

func (s *SMI) Name() string { return "nvidia-smi" }

func (s *SMI) Sample(ctx context.Context, index int) (Sample, error) {
	out, err := exec.CommandContext(ctx, s.Path,
		"--query-gpu=name,memory.free,memory.total",
		"--format=csv,noheader,nounits",
		"-i", strconv.Itoa(index),
	).Output()
	if err != nil {
		return Sample{}, fmt.Errorf("nvidia-smi: %w", err)
	}
	return parseSMI(string(out))
}

func parseSMI(out string) (Sample, error) {
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Sample{}, fmt.Errorf("nvidia-smi: unexpected output %q", line)
	}
	free, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("nvidia-smi free: %w", err)
	}
	total, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("nvidia-smi total: %w", err)
	}
	const mib = 1 << 20
	return Sample{
		Name:  strings.TrimSpace(fields[0]),
		Free:  free * mib,
		Total: total * mib,
	}, nil
}
