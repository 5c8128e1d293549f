package paginate

import (
	"testing"
)

func TestOffsetWindows_AscendingNoGaps(t *testing.T) {
	var windows []Window
	for w := range OffsetWindows(100, nil) {
		windows = append(windows, w)
		if len(windows) == 5 {
			break
		}
	}

	for i, w := range windows {
		if w.Limit != 100 {
			t.Errorf("Window %d: expected limit 100, got %d", i, w.Limit)
		}
		if w.Offset != int64(i*100) {
			t.Errorf("Window %d: expected offset %d, got %d", i, i*100, w.Offset)
		}
	}
}

func TestPlannedOffsetWindows(t *testing.T) {
	tests := []struct {
		name       string
		totalCount int64
		pageSize   int
		expected   []int64
	}{
		{"exact_multiple", 300, 100, []int64{0, 100, 200}},
		{"partial_tail", 250, 100, []int64{0, 100, 200}},
		{"single_page", 50, 100, []int64{0}},
		{"empty", 0, 100, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows := PlannedOffsetWindows(tt.totalCount, tt.pageSize, nil)

			if len(windows) != len(tt.expected) {
				t.Fatalf("Expected %d windows, got %d", len(tt.expected), len(windows))
			}
			for i, offset := range tt.expected {
				if windows[i].Offset != offset {
					t.Errorf("Window %d: expected offset %d, got %d", i, offset, windows[i].Offset)
				}
			}
		})
	}
}

func TestReverseOffsetWindows(t *testing.T) {
	tests := []struct {
		name       string
		totalCount int64
		pageSize   int
		expected   []int64
	}{
		{"partial_tail", 250, 100, []int64{200, 100, 0}},
		{"exact_multiple", 300, 100, []int64{300, 200, 100, 0}},
		{"single_page", 50, 100, []int64{0}},
		// Zero rows still issues the offset-0 window; the count is an
		// estimate and rows may have migrated in.
		{"empty", 0, 100, []int64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows := ReverseOffsetWindows(tt.totalCount, tt.pageSize, nil)

			if len(windows) != len(tt.expected) {
				t.Fatalf("Expected %d windows, got %d", len(tt.expected), len(windows))
			}
			for i, offset := range tt.expected {
				if windows[i].Offset != offset {
					t.Errorf("Window %d: expected offset %d, got %d", i, offset, windows[i].Offset)
				}
			}
		})
	}
}

func TestChangeVersionWindows(t *testing.T) {
	t.Run("covers_range_without_overlap", func(t *testing.T) {
		windows, err := ChangeVersionWindows(0, 250, 100)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		expected := []VersionWindow{
			{Min: 0, Max: 100},
			{Min: 101, Max: 200},
			{Min: 201, Max: 250},
		}
		if len(windows) != len(expected) {
			t.Fatalf("Expected %d windows, got %d", len(expected), len(windows))
		}
		for i, want := range expected {
			if windows[i] != want {
				t.Errorf("Window %d: expected %+v, got %+v", i, want, windows[i])
			}
		}
	})

	t.Run("exact_multiple", func(t *testing.T) {
		windows, err := ChangeVersionWindows(0, 200, 100)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(windows) != 2 {
			t.Fatalf("Expected 2 windows, got %d", len(windows))
		}
		if windows[1].Max != 200 {
			t.Errorf("Expected final max 200, got %d", windows[1].Max)
		}
	})

	t.Run("contiguous_coverage", func(t *testing.T) {
		windows, err := ChangeVersionWindows(17, 40923, 1000)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if windows[0].Min != 17 {
			t.Errorf("Expected first min 17, got %d", windows[0].Min)
		}
		if windows[len(windows)-1].Max != 40923 {
			t.Errorf("Expected last max 40923, got %d", windows[len(windows)-1].Max)
		}
		for i := 1; i < len(windows); i++ {
			if windows[i].Min != windows[i-1].Max+1 {
				t.Errorf("Gap between window %d (max %d) and %d (min %d)",
					i-1, windows[i-1].Max, i, windows[i].Min)
			}
		}
	})

	t.Run("inverted_range_yields_zero_windows", func(t *testing.T) {
		windows, err := ChangeVersionWindows(500, 100, 100)
		if err != nil {
			t.Fatalf("Inverted range is not an error, got %v", err)
		}
		if len(windows) != 0 {
			t.Errorf("Expected zero windows, got %d", len(windows))
		}
	})

	t.Run("equal_bounds_yields_zero_windows", func(t *testing.T) {
		windows, err := ChangeVersionWindows(100, 100, 50)
		if err != nil {
			t.Fatalf("Equal bounds is not an error, got %v", err)
		}
		if len(windows) != 0 {
			t.Errorf("Expected zero windows, got %d", len(windows))
		}
	})

	t.Run("invalid_step_size", func(t *testing.T) {
		if _, err := ChangeVersionWindows(0, 100, 0); err == nil {
			t.Error("Expected error for zero step size")
		}
		if _, err := ChangeVersionWindows(0, 100, -5); err == nil {
			t.Error("Expected error for negative step size")
		}
	})
}
