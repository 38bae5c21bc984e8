package docker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestShortID tests container id shortening
func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", ShortID("0123456789abcdef0123"))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "", ShortID(""))
}

// TestDecodeLogLinesMultiplexed tests splitting an engine-framed stream
func TestDecodeLogLinesMultiplexed(t *testing.T) {
	var framed bytes.Buffer
	stdout := stdcopy.NewStdWriter(&framed, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&framed, stdcopy.Stderr)
	_, err := stdout.Write([]byte("hello\n"))
	require.NoError(t, err)
	_, err = stderr.Write([]byte("oops\n"))
	require.NoError(t, err)

	lines, err := decodeLogLines(&framed)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "oops"}, lines)
}

// TestDecodeLogLinesRawTTY tests the fallback for unframed TTY streams;
// the first line must survive intact even though the demux attempt
// consumed a prefix of the stream before failing.
func TestDecodeLogLinesRawTTY(t *testing.T) {
	raw := "first tty line\nsecond tty line\n"

	lines, err := decodeLogLines(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"first tty line", "second tty line"}, lines)
}

// TestCalculateCPUPercent tests CPU percentage derivation from stat deltas
func TestCalculateCPUPercent(t *testing.T) {
	testCases := []struct {
		name     string
		stats    container.Stats
		expected float64
	}{
		{
			name: "half of one cpu",
			stats: statsWith(func(s *container.Stats) {
				s.CPUStats.CPUUsage.TotalUsage = 150
				s.PreCPUStats.CPUUsage.TotalUsage = 100
				s.CPUStats.SystemUsage = 1100
				s.PreCPUStats.SystemUsage = 1000
				s.CPUStats.OnlineCPUs = 1
			}),
			expected: 50.0,
		},
		{
			name: "scaled by online cpus",
			stats: statsWith(func(s *container.Stats) {
				s.CPUStats.CPUUsage.TotalUsage = 150
				s.PreCPUStats.CPUUsage.TotalUsage = 100
				s.CPUStats.SystemUsage = 1100
				s.PreCPUStats.SystemUsage = 1000
				s.CPUStats.OnlineCPUs = 4
			}),
			expected: 200.0,
		},
		{
			name:     "zero system delta",
			stats:    statsWith(func(s *container.Stats) {}),
			expected: 0.0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, calculateCPUPercent(&tc.stats), 0.001)
		})
	}
}

// TestCalculateMemoryPercent tests memory percentage including the
// zero-limit guard
func TestCalculateMemoryPercent(t *testing.T) {
	stats := statsWith(func(s *container.Stats) {
		s.MemoryStats.Usage = 256
		s.MemoryStats.Limit = 1024
	})
	assert.InDelta(t, 25.0, calculateMemoryPercent(&stats), 0.001)

	noLimit := statsWith(func(s *container.Stats) {
		s.MemoryStats.Usage = 256
	})
	assert.Zero(t, calculateMemoryPercent(&noLimit))
}

func statsWith(mutate func(*container.Stats)) container.Stats {
	var s container.Stats
	mutate(&s)
	return s
}
