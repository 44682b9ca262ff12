package reminder

import (
	"regexp"
	"strings"
)

var hashtagRe = regexp.MustCompile(`#([a-zA-Z0-9_]{1,32})`)

const maxTags = 10

// ExtractTags returns the distinct lowercase hashtags of a title, never nil.
func ExtractTags(title string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, m := range hashtagRe.FindAllStringSubmatch(title, -1) {
		t := strings.ToLower(m[1])
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) >= maxTags {
			break
		}
	}
	return out
}
