package main

import (
	"reflect"
	"testing"
	"time"
)

func TestResolveDate(t *testing.T) {
	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Fatalf("LoadLocation() failed: %v", err)
	}
	// 2024-03-05 01:30 in Manila, still March 4 in UTC.
	now := time.Date(2024, 3, 4, 17, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty is today", "", "2024-03-05", false},
		{"today", "Today", "2024-03-05", false},
		{"date key", "2024-01-31", "2024-01-31", false},
		{"yesterday", "yesterday", "2024-03-04", false},
		{"nonsense", "purple elephant", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveDate(tt.input, now, manila)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveDate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"true", true},
		{"6", int64(6)},
		{"81.5", 81.5},
		{`["a","b"]`, []any{"a", "b"}},
		{"long walk", "long walk"},
		{"null", nil},
		{"1 2", "1 2"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseValue(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseValue(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}
