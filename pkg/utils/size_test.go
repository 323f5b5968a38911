package utils

import (
	"testing"
)

func TestParseDataSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		// Plain bytes
		{"0", 0, false},
		{"1024", 1024, false},
		{"100B", 100, false},
		{" 64 ", 64, false},

		// Decimal units
		{"1KB", 1000, false},
		{"1.5MB", 1500000, false},
		{"2GB", 2000000000, false},

		// Binary units
		{"1K", 1024, false},
		{"4KiB", 4096, false},
		{"4kib", 4096, false},
		{"1.5MiB", 1572864, false},
		{"1G", 1073741824, false},
		{"1TiB", 1099511627776, false},

		// Errors
		{"", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
		{"10XB", 0, true},
		{"1.2.3KB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDataSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDataSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("ParseDataSize(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseChunkSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		wantErr  bool
	}{
		{"1024", 1024, false},
		{"4KiB", 4096, false},
		{"16MiB", 16 * 1024 * 1024, false},
		{"0", 0, true},
		{"17MiB", 0, true},
		{"big", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseChunkSize(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChunkSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseChunkSize(%q) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestFormatDataSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{-1, "invalid"},
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{10000, "9.77 KB"},
		{MiB, "1 MB"},
		{5 * GiB / 2, "2.5 GB"},
		{3 * TiB, "3 TB"},
		{2048 * TiB, "2048 TB"},
	}

	for _, tt := range tests {
		if got := FormatDataSize(tt.bytes); got != tt.expected {
			t.Errorf("FormatDataSize(%d) = %q, want %q", tt.bytes, got, tt.expected)
		}
	}
}
