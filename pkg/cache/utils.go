package cache

import "strings"

// GenerateKey joins key parts with ':' skipping empty ones.
func GenerateKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}
