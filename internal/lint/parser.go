package lint

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/example/optimo/internal/models"
)

type ruffFinding struct {
	Code     *string `json:"code"`
	Message  string  `json:"message"`
	Location *struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

var codePattern = regexp.MustCompile(`\b([A-Z]+\d{3,4})\b`)

// ParseFindings reads ruff's JSON output. Anything that is not a JSON array (text
// output, a different linter) falls back to scraping rule codes from the text.
func ParseFindings(stdout string) []models.Finding {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil
	}
	var raw []ruffFinding
	if err := json.Unmarshal([]byte(trimmed), &raw); err == nil {
		out := make([]models.Finding, 0, len(raw))
		for _, r := range raw {
			f := models.Finding{Message: r.Message}
			if r.Code != nil {
				f.Code = *r.Code
			} else {
				// syntax errors carry no rule code
				f.Code = "E999"
			}
			if r.Location != nil {
				f.Line, f.Column = r.Location.Row, r.Location.Column
			}
			out = append(out, f)
		}
		return out
	}

	var out []models.Finding
	seen := map[string]bool{}
	for _, m := range codePattern.FindAllStringSubmatch(trimmed, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, models.Finding{Code: m[1]})
	}
	return out
}

// Codes returns the distinct finding codes in first-seen order.
func Codes(findings []models.Finding) []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range findings {
		if !seen[f.Code] {
			seen[f.Code] = true
			out = append(out, f.Code)
		}
	}
	return out
}
