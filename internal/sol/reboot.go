package sol

import (
	"regexp"
	"strings"
)

// RebootDetector recognizes BIOS POST/reboot banners in a SOL byte
// stream. Adapted from the teacher's sol/reboot.go — generalized from a
// per-server console-log heuristic to a per-chassis one, same matching
// rules (caller patterns plus a baked-in common set).
type RebootDetector struct {
	patterns []*regexp.Regexp
}

var commonRebootPatterns = []string{
	"Press <DEL>",
	"Press DEL",
	"Initializing",
	"BIOS Date",
	"Memory Test",
	"CPU Type",
}

func NewRebootDetector(patterns []string) *RebootDetector {
	rd := &RebootDetector{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		if re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(p)); err == nil {
			rd.patterns = append(rd.patterns, re)
		}
	}
	return rd
}

func (rd *RebootDetector) Check(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range rd.patterns {
		if p.MatchString(lower) {
			return true
		}
	}
	for _, p := range commonRebootPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
