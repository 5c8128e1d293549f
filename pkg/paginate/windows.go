// Package paginate turns a logical scan request into a bounded sequence of
// pagination windows, and drives the GET calls that visit them.
package paginate

import (
	"fmt"
	"iter"
)

// Window is one bounded query range issued as a single GET: a limit/offset
// pair, optionally restricted to a change-version range.
type Window struct {
	Limit   int
	Offset  int64
	Version *VersionWindow
}

// VersionWindow is a closed change-version range [Min, Max].
type VersionWindow struct {
	Min int64
	Max int64
}

// OffsetWindows returns the unbounded ascending window sequence
// {limit, 0}, {limit, limit}, ... . The paginator decides termination,
// not the planner.
func OffsetWindows(pageSize int, version *VersionWindow) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		for offset := int64(0); ; offset += int64(pageSize) {
			if !yield(Window{Limit: pageSize, Offset: offset, Version: version}) {
				return
			}
		}
	}
}

// PlannedOffsetWindows returns the ascending windows covering totalCount
// rows. Used when windows must be enumerated up front, e.g. for concurrent
// fetching.
func PlannedOffsetWindows(totalCount int64, pageSize int, version *VersionWindow) []Window {
	var windows []Window
	for offset := int64(0); offset < totalCount; offset += int64(pageSize) {
		windows = append(windows, Window{Limit: pageSize, Offset: offset, Version: version})
	}
	return windows
}

// ReverseOffsetWindows returns the descending windows from the highest
// multiple of pageSize not exceeding totalCount down to offset 0. Rows can
// migrate toward earlier offsets while a window is scanned; walking from the
// tail re-emits such rows instead of losing them.
func ReverseOffsetWindows(totalCount int64, pageSize int, version *VersionWindow) []Window {
	start := totalCount / int64(pageSize) * int64(pageSize)

	var windows []Window
	for offset := start; offset >= 0; offset -= int64(pageSize) {
		windows = append(windows, Window{Limit: pageSize, Offset: offset, Version: version})
	}
	return windows
}

// ChangeVersionWindows partitions [min, max] into closed sub-ranges of width
// stepSize, emitted in ascending order. Subsequent minimums are advanced by
// one so ranges never overlap. An inverted range yields zero windows: there
// is nothing to pull, which is not an error.
func ChangeVersionWindows(min, max, stepSize int64) ([]VersionWindow, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("change version step size must be positive, got %d", stepSize)
	}

	var windows []VersionWindow
	for start := min; start < max; start += stepSize {
		w := VersionWindow{Min: start, Max: start + stepSize}
		if len(windows) > 0 {
			w.Min++
		}
		if w.Max > max {
			w.Max = max
		}
		windows = append(windows, w)
	}
	return windows, nil
}
