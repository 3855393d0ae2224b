package shared

import (
	"strings"
	"unicode"
)

// GradeKey normalizes a grade label into a canonical key so that "5", "5-A",
// "5 - Section B" and "Grade 5" all resolve to the same fee template. The key
// is the first run of digits with leading zeros trimmed; labels without digits
// (e.g. "Nursery") normalize to their lowercased trimmed form.
func GradeKey(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	if s == "" {
		return ""
	}

	start := -1
	for i, r := range s {
		if unicode.IsDigit(r) {
			start = i
			break
		}
	}
	if start < 0 {
		return s
	}

	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	key := strings.TrimLeft(s[start:end], "0")
	if key == "" {
		// all zeros, e.g. "0" for a reception class
		return "0"
	}
	return key
}

// SameGrade reports whether two grade labels resolve to the same canonical key.
func SameGrade(a, b string) bool {
	ka, kb := GradeKey(a), GradeKey(b)
	return ka != "" && ka == kb
}
