package utils

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Size constants (binary)
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// MaxChunkSize caps the transfer buffer a single connection may allocate.
const MaxChunkSize = 16 * MiB

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]*)$`)

var multipliers = map[string]int64{
	"":      1,
	"B":     1,
	"BYTES": 1,
	"KB":    1000,
	"MB":    1000 * 1000,
	"GB":    1000 * 1000 * 1000,
	"TB":    1000 * 1000 * 1000 * 1000,
	"K":     KiB,
	"KIB":   KiB,
	"M":     MiB,
	"MIB":   MiB,
	"G":     GiB,
	"GIB":   GiB,
	"T":     TiB,
	"TIB":   TiB,
}

// ParseDataSize parses sizes like "1024", "4KiB", "1.5MB" or "2G".
// KB/MB/GB/TB are decimal; K/M/G/T and the IEC KiB/MiB/GiB/TiB are binary.
func ParseDataSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size: %s", s)
		}
		return n, nil
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %s (expected format like '4KiB', '512MB')", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", matches[1])
	}

	multiplier, ok := multipliers[strings.ToUpper(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s (supported: B, KB, MB, GB, TB, KiB, MiB, GiB, TiB)", matches[2])
	}

	bytes := value * float64(multiplier)
	if bytes > math.MaxInt64 {
		return 0, fmt.Errorf("size overflow: %s", s)
	}
	return int64(bytes), nil
}

// ParseChunkSize parses a transfer buffer size and checks it is usable.
func ParseChunkSize(s string) (int, error) {
	n, err := ParseDataSize(s)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > MaxChunkSize {
		return 0, fmt.Errorf("chunk size %s out of range [1B, %s]", s, FormatDataSize(MaxChunkSize))
	}
	return int(n), nil
}

// FormatDataSize formats bytes with binary units, e.g. "3.26 KB".
func FormatDataSize(bytes int64) string {
	if bytes < 0 {
		return "invalid"
	}
	if bytes < KiB {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KB", "MB", "GB", "TB"}
	value := float64(bytes) / float64(KiB)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}

	switch {
	case value == math.Trunc(value):
		return fmt.Sprintf("%.0f %s", value, units[i])
	case value*10 == math.Trunc(value*10):
		return fmt.Sprintf("%.1f %s", value, units[i])
	default:
		return fmt.Sprintf("%.2f %s", value, units[i])
	}
}
