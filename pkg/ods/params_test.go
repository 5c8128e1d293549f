package ods

import (
	"testing"

	"github.com/mkrantz/ods-api-client/pkg/paginate"
)

func TestNewParams_NormalizesCasing(t *testing.T) {
	params := NewParams(map[string]string{
		"min_change_version": "100",
		"maxChangeVersion":   "500",
		"school_year":        "2025",
	})

	if params["minChangeVersion"] != "100" {
		t.Errorf("Expected snake_case key normalized, got %v", params)
	}
	if params["maxChangeVersion"] != "500" {
		t.Errorf("Expected camelCase key preserved, got %v", params)
	}
	if params["schoolYear"] != "2025" {
		t.Errorf("Expected schoolYear, got %v", params)
	}
}

func TestNewParams_DropsEmptyValues(t *testing.T) {
	params := NewParams(map[string]string{"limit": "", "offset": "5"})

	if _, ok := params["limit"]; ok {
		t.Error("Expected empty value dropped")
	}
	if params["offset"] != "5" {
		t.Errorf("Expected offset kept, got %v", params)
	}
}

func TestParams_Clone(t *testing.T) {
	original := NewParams(map[string]string{"limit": "10"})
	copied := original.Clone()
	copied["limit"] = "999"

	if original["limit"] != "10" {
		t.Error("Clone must not share storage with the original")
	}
}

func TestParams_ChangeVersionBounds(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		min     int64
		max     int64
		ok      bool
	}{
		{"both_present", map[string]string{"min_change_version": "10", "max_change_version": "90"}, 10, 90, true},
		{"missing_max", map[string]string{"minChangeVersion": "10"}, 0, 0, false},
		{"missing_both", map[string]string{}, 0, 0, false},
		{"non_numeric", map[string]string{"minChangeVersion": "x", "maxChangeVersion": "90"}, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			min, max, ok := NewParams(tt.raw).ChangeVersionBounds()
			if ok != tt.ok || min != tt.min || max != tt.max {
				t.Errorf("Got (%d, %d, %v), want (%d, %d, %v)", min, max, ok, tt.min, tt.max, tt.ok)
			}
		})
	}
}

func TestParams_WindowValuesOverridesBase(t *testing.T) {
	params := NewParams(map[string]string{
		"limit":  "9999",
		"offset": "12345",
	})

	values := params.windowValues(paginate.Window{
		Limit:  100,
		Offset: 300,
		Version: &paginate.VersionWindow{Min: 1, Max: 50},
	})

	if values.Get("limit") != "100" {
		t.Errorf("Expected window limit to override base, got %s", values.Get("limit"))
	}
	if values.Get("offset") != "300" {
		t.Errorf("Expected window offset to override base, got %s", values.Get("offset"))
	}
	if values.Get("minChangeVersion") != "1" || values.Get("maxChangeVersion") != "50" {
		t.Errorf("Expected version bounds set, got %v", values)
	}
}

func TestParams_VersionValuesLeavesPaginationAlone(t *testing.T) {
	params := NewParams(map[string]string{"schoolYear": "2025"})

	values := params.versionValues(&paginate.VersionWindow{Min: 5, Max: 10})
	if values.Get("limit") != "" || values.Get("offset") != "" {
		t.Error("Total-count probes must not set pagination keys")
	}
	if values.Get("minChangeVersion") != "5" {
		t.Errorf("Expected version bounds set, got %v", values)
	}
	if values.Get("schoolYear") != "2025" {
		t.Errorf("Expected base params preserved, got %v", values)
	}
}

func TestSnakeToCamel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"students", "students"},
		{"student_school_associations", "studentSchoolAssociations"},
		{"min_change_version", "minChangeVersion"},
		{"grade-level-descriptors", "gradeLevelDescriptors"},
		{"alreadyCamel", "alreadyCamel"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := snakeToCamel(tt.input); got != tt.expected {
			t.Errorf("snakeToCamel(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestURLJoin(t *testing.T) {
	tests := []struct {
		parts    []string
		expected string
	}{
		{[]string{"https://api.example.com/", "data/v3", "ed-fi", "students"}, "https://api.example.com/data/v3/ed-fi/students"},
		{[]string{"https://api.example.com", "data/v3", "ed-fi", "students", ""}, "https://api.example.com/data/v3/ed-fi/students"},
		{[]string{"base", "", "x"}, "base/x"},
	}

	for _, tt := range tests {
		if got := urlJoin(tt.parts...); got != tt.expected {
			t.Errorf("urlJoin(%v) = %q, want %q", tt.parts, got, tt.expected)
		}
	}
}
