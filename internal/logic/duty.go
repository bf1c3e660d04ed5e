package logic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxDeviceWrite is the longest duty command accepted from the device surface.
const MaxDeviceWrite = 19

var (
	// ErrInvalidDuty is returned when a duty cycle is outside [MinDuty, MaxDuty].
	ErrInvalidDuty = errors.New("duty cycle out of range")

	// ErrMalformedDuty is returned when input cannot be parsed as duty cycles.
	ErrMalformedDuty = errors.New("malformed duty cycle")
)

// Validate rejects any channel outside [MinDuty, MaxDuty]. Values are never clamped.
func (d Duties) Validate() error {
	for i, v := range d {
		if err := ValidateDuty(v); err != nil {
			return fmt.Errorf("led%d: %w", i+1, err)
		}
	}
	return nil
}

// ValidateDuty checks a single duty cycle.
func ValidateDuty(v int) error {
	if v < MinDuty || v > MaxDuty {
		return fmt.Errorf("%w: %d", ErrInvalidDuty, v)
	}
	return nil
}

// ParseDuties parses "d1 d2 d3" (any whitespace) into validated duties.
func ParseDuties(s string) (Duties, error) {
	var d Duties
	fields := strings.Fields(s)
	if len(fields) != Channels {
		return d, fmt.Errorf("%w: want %d values, got %d", ErrMalformedDuty, Channels, len(fields))
	}
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return Duties{}, fmt.Errorf("%w: %q", ErrMalformedDuty, f)
		}
		d[i] = v
	}
	if err := d.Validate(); err != nil {
		return Duties{}, err
	}
	return d, nil
}

// ParseDuty parses a single duty cycle attribute value, e.g. "42\n".
func ParseDuty(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedDuty, strings.TrimSpace(s))
	}
	if err := ValidateDuty(v); err != nil {
		return 0, err
	}
	return v, nil
}

// String formats duties the way ParseDuties reads them.
func (d Duties) String() string {
	return fmt.Sprintf("%d %d %d", d[0], d[1], d[2])
}
