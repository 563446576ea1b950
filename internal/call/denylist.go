package call

import (
	"strings"

	"github.com/dialsense/dialsense/internal/amd"
)

// DefaultMinOverrideConfidence is the floor applied to forced machine results.
const DefaultMinOverrideConfidence = 0.85

// DefaultDenyList holds numbers known to answer with a recording.
var DefaultDenyList = []string{"18007742678", "18008066453", "18882211161"}

// Override forces a machine result for deny-listed numbers. MinConfidence is
// used as is; zero keeps the detector's confidence.
type Override struct {
	Numbers       []string
	MinConfidence float64
}

// DefaultOverride returns the stock deny-list and confidence floor.
func DefaultOverride() Override {
	return Override{
		Numbers:       append([]string(nil), DefaultDenyList...),
		MinConfidence: DefaultMinOverrideConfidence,
	}
}

// Matches reports whether number belongs to the deny-list. Formatting is
// ignored and the country code 1 is optional.
func (o Override) Matches(number string) bool {
	digits := Digits(number)
	if digits == "" {
		return false
	}
	for _, n := range o.Numbers {
		key := Digits(n)
		if len(key) == 11 && key[0] == '1' {
			key = key[1:]
		}
		if key != "" && strings.Contains(digits, key) {
			return true
		}
	}
	return false
}

// Apply returns the final outcome for a call to number.
func (o Override) Apply(number string, out amd.Outcome) amd.Outcome {
	if !o.Matches(number) {
		return out
	}
	out.Result = amd.Machine
	out.Confidence = max(o.MinConfidence, out.Confidence)
	return out
}

// Digits strips everything but ASCII digits from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
