// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"
)

var durationRegexp = regexp.MustCompile(`(\d+\.?\d*)([µa-z]+)`)

// FormatDuration pretty prints duration without a long list of decimal points.
func FormatDuration(d time.Duration) string {
	s := d.String()
	matches := durationRegexp.FindStringSubmatch(s)
	if len(matches) != 3 || len(matches[0]) != len(s) {
		// Compound durations like "1h2m3s" are returned as is.
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}

// MedianDuration returns the median of the durations, or 0 if there are none.
// The durations slice is not modified.
func MedianDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
