package research

import "strings"

// researchAreaMarkers are the section headings, lowercased, that introduce a
// list of open questions in an analysis text.
var researchAreaMarkers = []string{
	"areas for further research",
	"areas requiring further research",
	"areas needing further research",
	"open questions",
}

const maxResearchAreas = 10

// ExtractResearchAreas scans free-form analysis text for a "further research"
// section and returns its bullet or numbered lines. The scan is heuristic:
// it feeds the next round's prompt and must never be relied on for
// correctness. Returns nil when no marker section is found.
func ExtractResearchAreas(text string) []string {
	lines := strings.Split(text, "\n")

	var areas []string
	seen := make(map[string]struct{})
	inSection := false

	for _, raw := range lines {
		line := strings.TrimSpace(raw)

		if !inSection {
			lower := strings.ToLower(line)
			for _, marker := range researchAreaMarkers {
				if strings.Contains(lower, marker) {
					inSection = true
					break
				}
			}
			continue
		}

		if line == "" {
			// A blank line before any bullet is formatting; after bullets
			// it ends the section.
			if len(areas) > 0 {
				break
			}
			continue
		}

		item, ok := stripListPrefix(line)
		if !ok {
			// Non-list line after bullets ends the section; before any
			// bullet it is preamble, keep scanning.
			if len(areas) > 0 {
				break
			}
			continue
		}
		if item == "" {
			continue
		}

		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		areas = append(areas, item)
		if len(areas) >= maxResearchAreas {
			break
		}
	}

	return areas
}

// stripListPrefix removes a leading bullet or number marker.
// Returns false when the line is not a list item.
func stripListPrefix(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}

	// Numbered items: "1. foo" or "2) foo"
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:]), true
	}

	return "", false
}
