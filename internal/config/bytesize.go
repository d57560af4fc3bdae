package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing.
// Accepted forms: raw byte counts ("5242880"), binary units ("10MB",
// "1.5 GB", "512KiB"). Units are case-insensitive and binary-based (1024).
//
// Implements encoding.TextUnmarshaler for Viper/YAML support and
// json.Unmarshaler for JSON configuration files.
type ByteSize int64

const (
	byteUnit     ByteSize = 1
	kibibyteUnit          = 1024 * byteUnit
	mebibyteUnit          = 1024 * kibibyteUnit
	gibibyteUnit          = 1024 * mebibyteUnit
	tebibyteUnit          = 1024 * gibibyteUnit
)

var byteUnitMultipliers = map[string]ByteSize{
	"":      byteUnit,
	"b":     byteUnit,
	"byte":  byteUnit,
	"bytes": byteUnit,
	"k":     kibibyteUnit,
	"kb":    kibibyteUnit,
	"kib":   kibibyteUnit,
	"m":     mebibyteUnit,
	"mb":    mebibyteUnit,
	"mib":   mebibyteUnit,
	"g":     gibibyteUnit,
	"gb":    gibibyteUnit,
	"gib":   gibibyteUnit,
	"t":     tebibyteUnit,
	"tb":    tebibyteUnit,
	"tib":   tebibyteUnit,
}

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	// Split the numeric prefix from the unit suffix.
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == '-') {
		i++
	}
	numPart := strings.TrimSpace(s[:i])
	unitPart := strings.ToLower(strings.TrimSpace(s[i:]))

	if numPart == "" {
		return 0, fmt.Errorf("invalid byte size %q: missing number", s)
	}

	mult, ok := byteUnitMultipliers[unitPart]
	if !ok {
		return 0, fmt.Errorf("invalid byte size %q: unknown unit %q", s, unitPart)
	}

	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid byte size %q: negative", s)
	}

	return ByteSize(value * float64(mult)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Raw number of bytes for backwards compatibility.
		var raw int64
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*b = ByteSize(raw)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String formats the size using the largest unit that divides it cleanly,
// falling back to one decimal place.
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	units := []struct {
		mult ByteSize
		name string
	}{
		{tebibyteUnit, "TB"},
		{gibibyteUnit, "GB"},
		{mebibyteUnit, "MB"},
		{kibibyteUnit, "KB"},
	}
	for _, u := range units {
		if b >= u.mult {
			if b%u.mult == 0 {
				return fmt.Sprintf("%d%s", int64(b/u.mult), u.name)
			}
			return fmt.Sprintf("%.1f%s", float64(b)/float64(u.mult), u.name)
		}
	}
	return fmt.Sprintf("%dB", int64(b))
}
