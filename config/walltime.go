package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWalltime parses a HH:MM:SS walltime. Go durations such as "1h30m" are
// accepted too.
func ParseWalltime(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("must not be empty")
	}

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("must be formatted as HH:MM:SS, got '%s'", value)
		}
		return d, nil
	}

	var fields [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("must be formatted as HH:MM:SS, got '%s'", value)
		}
		fields[i] = n
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("must be formatted as HH:MM:SS, got '%s'", value)
	}

	return time.Duration(fields[0])*time.Hour + time.Duration(fields[1])*time.Minute + time.Duration(fields[2])*time.Second, nil
}

// FormatWalltime is the inverse of ParseWalltime.
func FormatWalltime(d time.Duration) string {
	seconds := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}
