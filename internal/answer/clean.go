package answer

import (
	"regexp"
	"strings"
)

// Small local models pad answers with preambles, bibliographies, and
// copied author affiliations. The cleaner strips the recurring shapes.

var defaultPreamblePatterns = []string{
	`(?im)^(?:Okay|OK|Sure|Certainly|Of course)[,.]?\s*(?:here'?s?|I'?ll|let me)[^.]*[.!]\s*`,
	`(?im)^(?:Here is|Here's|Below is)[^.]*[.!:]\s*`,
	`(?im)^(?:Based on|According to) (?:the )?(?:provided |given )?(?:context|documents?|sources?)[,.]?\s*`,
	`(?im)^(?:The )?(?:corrected |revised |formatted )?(?:text|answer|response)[^.]*[.:]\s*`,
	`(?im)^I (?:understand|see)[^.]*[.!]\s*`,
}

var defaultBibliographyPatterns = []string{
	`(?is)\n+(?:References|Bibliography|Sources|Works Cited):?\s*\n.*$`,
	`(?s)\n+\[\d+\][^\[]*$`,
}

// Lines that look like copied paper front matter.
var affiliationLineRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^[\d\s]*Department of`),
	regexp.MustCompile(`^[\w\s,]+@[\w.]+$`),
	regexp.MustCompile(`^[A-Z][a-z]+\s+[A-Z][a-z]+\d*$`),
	regexp.MustCompile(`(?i)^(?:Viale|Via|Street|Avenue)\s`),
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Cleaner strips LLM artifacts from generated answers.
type Cleaner struct {
	preamble     []*regexp.Regexp
	bibliography []*regexp.Regexp
}

// NewCleaner compiles the default patterns plus any extras from config.
// Extras that fail to compile are skipped.
func NewCleaner(extraPatterns []string) *Cleaner {
	c := &Cleaner{}
	for _, p := range defaultPreamblePatterns {
		c.preamble = append(c.preamble, regexp.MustCompile(p))
	}
	for _, p := range defaultBibliographyPatterns {
		c.bibliography = append(c.bibliography, regexp.MustCompile(p))
	}
	for _, p := range extraPatterns {
		if re, err := regexp.Compile(p); err == nil {
			c.preamble = append(c.preamble, re)
		}
	}
	return c
}

// Clean returns the answer with preambles, bibliography tails, and
// affiliation lines removed.
func (c *Cleaner) Clean(text string) string {
	cleaned := strings.TrimSpace(text)

	for _, re := range c.preamble {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	for _, re := range c.bibliography {
		cleaned = re.ReplaceAllString(cleaned, "")
	}

	lines := strings.Split(cleaned, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isAffiliationLine(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	cleaned = strings.Join(kept, "\n")

	cleaned = blankRunRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

func isAffiliationLine(line string) bool {
	if line == "" {
		return false
	}
	for _, re := range affiliationLineRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
