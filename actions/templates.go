package actions

import (
	"strings"
	"unicode/utf8"

	"github.com/Nehilsa2/linkedin_outreach/profile"
)

// MaxNoteLength is the longest invitation note the site accepts.
const MaxNoteLength = 300

// Vars returns the placeholder values for p.
func Vars(p *profile.Profile) map[string]string {
	return map[string]string{
		"{name}":       p.FullName,
		"{first_name}": p.FirstName(),
		"{headline}":   p.Headline,
	}
}

// Render fills placeholders in content. Both {var} and {VAR} are replaced.
func Render(content string, vars map[string]string) string {
	result := content
	for key, value := range vars {
		result = strings.ReplaceAll(result, key, value)
		result = strings.ReplaceAll(result, strings.ToUpper(key), value)
	}
	return strings.TrimSpace(result)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// RenderNote renders an invitation note for p within MaxNoteLength.
func RenderNote(note string, p *profile.Profile) string {
	return Truncate(Render(note, Vars(p)), MaxNoteLength)
}
