package utils

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// NormalizeKey folds case, collapses whitespace, and sorts the parts so
// that semantically identical requests produce the same key regardless
// of call-site argument order or formatting.
func NormalizeKey(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(strings.ToLower(p)), " ")
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	sort.Strings(normalized)
	return strings.Join(normalized, "|")
}
