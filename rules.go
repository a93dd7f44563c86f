package reprivileger

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// subrule is one parsed element of a pipe-delimited validation rule string.
type subrule struct {
	name     string
	param    string
	hasParam bool
}

// tokenizeRules parses a rule string such as "max:255|alpha_dash|required"
// into its subrules. A parameter may be single-quoted with backslash
// escapes; an unquoted parameter ends at '|', ':' or end-of-string. An
// unterminated quote drops the malformed subrule and everything after it
// rather than signaling an error. Unknown subrule names are kept; the
// validator ignores them.
func tokenizeRules(rules string) []subrule {
	var out []subrule
	i, n := 0, len(rules)
	for i < n {
		start := i
		for i < n && rules[i] != ':' && rules[i] != '|' {
			i++
		}
		name := rules[start:i]

		if i < n && rules[i] == ':' {
			i++
			var param strings.Builder
			if i < n && rules[i] == '\'' {
				i++
				closed := false
				for i < n {
					switch rules[i] {
					case '\\':
						if i+1 < n {
							param.WriteByte(rules[i+1])
							i += 2
							continue
						}
						i++
					case '\'':
						i++
						closed = true
					default:
						param.WriteByte(rules[i])
						i++
						continue
					}
					if closed {
						break
					}
				}
				if !closed {
					// Lenient parse: the remainder is abandoned.
					return out
				}
			} else {
				for i < n && rules[i] != '|' && rules[i] != ':' {
					param.WriteByte(rules[i])
					i++
				}
			}
			// Anything between the parameter terminator and the next
			// separator is discarded.
			for i < n && rules[i] != '|' {
				i++
			}
			if name != "" {
				out = append(out, subrule{name: name, param: param.String(), hasParam: true})
			}
		} else if name != "" {
			out = append(out, subrule{name: name})
		}

		if i < n && rules[i] == '|' {
			i++
		}
	}
	return out
}

func hasSubrule(subs []subrule, name string) bool {
	for _, s := range subs {
		if s.name == name {
			return true
		}
	}
	return false
}

var (
	alphaNumPattern       = regexp.MustCompile(`^[A-Za-z0-9]*$`)
	alphaDashPattern      = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)
	alphaDashSpacePattern = regexp.MustCompile(`^[A-Za-z0-9_\- ]*$`)
	alphaSlashPattern     = regexp.MustCompile(`^[A-Za-z0-9_\-/.:]*$`)
	alphaSlashSpacePatt   = regexp.MustCompile(`^[A-Za-z0-9_\-/.: ]*$`)
	usDatePattern         = regexp.MustCompile(`^[0-9]{1,2}/[0-9]{1,2}/[0-9]{4}$`)
)

// ValidateField applies a validation rule string to a single value.
//
// A nil value passes unless a "required" subrule is present. Strings and
// numbers are checked against their respective subrule sets; every active
// subrule must pass. Any other value type fails outright when subrules are
// present.
func ValidateField(rules string, value any) bool {
	subs := tokenizeRules(rules)
	if value == nil {
		return !hasSubrule(subs, "required")
	}
	if len(subs) == 0 {
		return true
	}

	if s, ok := value.(string); ok {
		return validateString(subs, s)
	}
	if n, ok := toNumber(value); ok {
		return validateNumber(subs, n)
	}
	return false
}

func validateString(subs []subrule, value string) bool {
	for _, sub := range subs {
		switch sub.name {
		case "max":
			limit, err := strconv.Atoi(sub.param)
			if err != nil || len(value) > limit {
				return false
			}
		case "min":
			limit, err := strconv.Atoi(sub.param)
			if err != nil || len(value) < limit {
				return false
			}
		case "alpha_num":
			if !alphaNumPattern.MatchString(value) {
				return false
			}
		case "alpha_dash":
			if !alphaDashPattern.MatchString(value) {
				return false
			}
		case "alpha_dash_space":
			if !alphaDashSpacePattern.MatchString(value) {
				return false
			}
		case "alpha_slash":
			if !alphaSlashPattern.MatchString(value) {
				return false
			}
		case "alpha_slash_space":
			if !alphaSlashSpacePatt.MatchString(value) {
				return false
			}
		case "us_date":
			if !usDatePattern.MatchString(value) {
				return false
			}
		case "required":
			// Present values satisfy required.
		}
	}
	return true
}

const stepEpsilon = 1e-9

func validateNumber(subs []subrule, value float64) bool {
	for _, sub := range subs {
		switch sub.name {
		case "max":
			limit, err := strconv.ParseFloat(sub.param, 64)
			if err != nil || value > limit {
				return false
			}
		case "min":
			limit, err := strconv.ParseFloat(sub.param, 64)
			if err != nil || value < limit {
				return false
			}
		case "step":
			step, err := strconv.ParseFloat(sub.param, 64)
			if err != nil || step == 0 {
				return false
			}
			remainder := math.Abs(math.Mod(value, step))
			if remainder > stepEpsilon && math.Abs(remainder-math.Abs(step)) > stepEpsilon {
				return false
			}
		case "required":
		}
	}
	return true
}
