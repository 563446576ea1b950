package telephony

import (
	"regexp"
	"strings"
)

var (
	separators   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	usNumberRe   = regexp.MustCompile(`^\+?1?[2-9]\d{2}[2-9]\d{2}\d{4}$`)
	e164NumberRe = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
)

// ValidNumber reports whether number looks like a US or E.164 number.
func ValidNumber(number string) bool {
	cleaned := separators.Replace(number)
	return usNumberRe.MatchString(cleaned) || e164NumberRe.MatchString(cleaned)
}

// FormatE164 normalises number to E.164. Ten-digit numbers are assumed to
// be North American.
func FormatE164(number string) string {
	cleaned := separators.Replace(strings.TrimSpace(number))
	switch {
	case strings.HasPrefix(cleaned, "+"):
		return cleaned
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "1"):
		return "+" + cleaned
	case len(cleaned) == 10:
		return "+1" + cleaned
	case len(cleaned) > 10:
		return "+" + cleaned
	}
	return cleaned
}
