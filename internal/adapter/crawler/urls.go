package crawler

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	urlSeparators = regexp.MustCompile(`[,\n\r;]+`)
	urlPattern    = regexp.MustCompile(`\b((?:https?://|www\.)[^\s,;()<>"]+|(?:[A-Za-z0-9-]+\.)+[A-Za-z]{2,6}(?:/[^\s,;()<>"]*)?)`)
)

// ExtractURLs pulls absolute URLs out of free text such as a pasted list.
// Bare "www." hosts get an https scheme. Order is kept, duplicates dropped.
func ExtractURLs(text string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, line := range urlSeparators.Split(text, -1) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, m := range urlPattern.FindAllString(line, -1) {
			candidate := strings.Trim(strings.TrimSpace(m), `'"<>(),.;:`)
			if strings.HasPrefix(candidate, "www.") {
				candidate = "https://" + candidate
			}
			u, err := url.Parse(candidate)
			if err != nil || u.Scheme == "" || u.Host == "" {
				continue
			}
			s := u.String()
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
