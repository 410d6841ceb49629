package util

import (
	"strings"
	"time"
)

func MustParseTime(t string) time.Time {
	t0, err := time.Parse(time.RFC3339Nano, t)
	if err != nil {
		panic(err)
	}
	return t0
}

// ParseBool accepts the yes/true/1 spellings used in module
// configuration files. Anything else is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1":
		return true
	}
	return false
}
