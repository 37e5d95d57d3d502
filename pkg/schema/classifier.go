package schema

import "strings"

// Canonical semantic themes. ThemeGeneral is the last-resort fallback and is
// never assigned by a keyword match.
const (
	ThemeTechnical     = "technical"
	ThemeMemory        = "memory"
	ThemeProject       = "project"
	ThemeStrategic     = "strategic"
	ThemeConsciousness = "consciousness"
	ThemePartnership   = "partnership"
	ThemeTemporal      = "temporal"
	ThemeEmotional     = "emotional"
	ThemeGeneral       = "general"
)

// Themes returns the canonical nine-element theme set in classifier order.
func Themes() []string {
	return []string{
		ThemeTechnical, ThemeMemory, ThemeProject, ThemeStrategic,
		ThemeConsciousness, ThemePartnership, ThemeTemporal, ThemeEmotional,
		ThemeGeneral,
	}
}

// IsTheme reports whether s is one of the canonical themes.
func IsTheme(s string) bool {
	for _, t := range Themes() {
		if s == t {
			return true
		}
	}
	return false
}

// themeKeywords holds the ordered, non-overlapping keyword groups. The groups
// are evaluated in order and the first match wins, so classification is
// deterministic: the same content always maps to the same theme.
//
// The keyword lists are part of the schema contract. Changing them changes
// reclassification results, so additions belong here, not in callers.
var themeKeywords = []struct {
	theme    string
	keywords []string
}{
	{ThemeTechnical, []string{
		"code", "bug", "api", "database", "server", "deploy", "algorithm",
		"refactor", "compile", "debug", "query", "endpoint", "latency",
		"docker", "kubernetes", "cypher", "embedding", "vector",
	}},
	{ThemeMemory, []string{
		"remember", "memory", "memories", "recall", "forgot", "forget",
		"observation", "knowledge graph", "retention",
	}},
	{ThemeProject, []string{
		"shipping", "shipped", "milestone", "release", "roadmap", "deadline",
		"launch", "sprint", "deliverable", "backlog", "prototype",
	}},
	{ThemeStrategic, []string{
		"strategy", "strategic", "long-term", "vision", "priority",
		"prioritize", "tradeoff", "direction", "objective",
	}},
	{ThemeConsciousness, []string{
		"consciousness", "aware", "awareness", "sentien", "embodiment",
		"self-reflect", "introspect", "identity", "qualia",
	}},
	{ThemePartnership, []string{
		"partnership", "collaborat", "together", "trust", "teamwork",
		"rapport", "alliance",
	}},
	{ThemeTemporal, []string{
		"yesterday", "today", "tomorrow", "schedule", "anniversary",
		"morning", "evening", "weekly", "monthly", "recurring",
	}},
	{ThemeEmotional, []string{
		"feel", "feeling", "happy", "sad", "excited", "anxious", "joy",
		"frustrat", "grateful", "proud", "worried",
	}},
}

// ClassifyTheme maps free-text observation content to one of the nine
// canonical themes without any ML dependency. Matching is case-insensitive
// substring containment; ThemeGeneral is returned only when no group matches.
func ClassifyTheme(content string) string {
	lowered := strings.ToLower(content)
	for _, group := range themeKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lowered, kw) {
				return group.theme
			}
		}
	}
	return ThemeGeneral
}
