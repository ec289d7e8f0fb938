package titles

import (
	"regexp"
	"strings"
)

// rule rewrites a title matching re; ok=false leaves the title unchanged
type rule struct {
	name    string
	re      *regexp.Regexp
	rewrite func(title string, m []string, loc []int) (string, bool)
}

// cleanupRules are tried in order and the first match wins
var cleanupRules = []rule{
	{
		name: "full_date",
		re:   regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\s*`),
		rewrite: func(title string, _ []string, loc []int) (string, bool) {
			rest := strings.TrimSpace(title[loc[1]:])
			if rest == "" {
				return title, false
			}
			return rest, true
		},
	},
	{
		name: "year_month",
		re:   regexp.MustCompile(`^(\d{4})-(\d{2})\s+(.+)$`),
		rewrite: func(_ string, m []string, _ []int) (string, bool) {
			return m[3] + " " + m[2] + "-" + m[1], true
		},
	},
	{
		name: "year",
		re:   regexp.MustCompile(`^(\d{4})\s+(.+)$`),
		rewrite: func(_ string, m []string, _ []int) (string, bool) {
			return m[2] + " " + m[1], true
		},
	},
}

// Clean moves or strips a leading date from a title:
//
//	"2023-10-01 Invoice"  -> "Invoice"
//	"2023-10 Invoice"     -> "Invoice 10-2023"
//	"2023 Tax Return"     -> "Tax Return 2023"
//
// changed reports whether a rule rewrote the title. A full date with nothing
// after it is left alone.
func Clean(title string) (cleaned string, changed bool) {
	title = strings.TrimSpace(title)
	for _, r := range cleanupRules {
		loc := r.re.FindStringSubmatchIndex(title)
		if loc == nil {
			continue
		}
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = title[loc[2*i]:loc[2*i+1]]
			}
		}
		out, ok := r.rewrite(title, m, loc)
		if !ok {
			return title, false
		}
		return out, out != title
	}
	return title, false
}

// IsScan reports whether a title still looks like a raw scanner filename.
// Such documents are not used as retrieval examples.
func IsScan(title string) bool {
	return strings.HasPrefix(strings.TrimSpace(title), "Scan")
}
