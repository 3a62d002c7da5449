package guard

import (
	"regexp"
	"strings"
)

// Suspicious URL heuristics. A match is a signal worth auditing, not a security
// boundary: handlers still validate and escape their own input.
var suspiciousPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"script_tag", regexp.MustCompile(`(?i)<\s*/?\s*script`)},
	{"javascript_uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"vbscript_uri", regexp.MustCompile(`(?i)vbscript\s*:`)},
	{"data_html_uri", regexp.MustCompile(`(?i)data\s*:\s*text/html`)},
	{"event_handler", regexp.MustCompile(`(?i)\bon(error|load|click|mouseover|focus|submit)\s*=`)},
	{"html_injection", regexp.MustCompile(`(?i)<\s*(iframe|object|embed|svg|img)\b`)},
	{"js_eval", regexp.MustCompile(`(?i)\b(eval|settimeout|setinterval)\s*\(`)},
	{"cookie_access", regexp.MustCompile(`(?i)document\s*\.\s*(cookie|domain)`)},
	{"sql_union", regexp.MustCompile(`(?i)\bunion\b[\s+]+(all[\s+]+)?select\b`)},
	{"sql_tautology", regexp.MustCompile(`(?i)'\s*(or|and)\s*'?\d+'?\s*=\s*'?\d+`)},
	{"sql_stacked", regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|alter)\s+`)},
	{"path_traversal", regexp.MustCompile(`\.\.[/\\]`)},
	{"null_byte", regexp.MustCompile(`%00|\x00`)},
}

// maxDecodeRounds bounds how many layers of percent-encoding are peeled off.
const maxDecodeRounds = 3

// DetectSuspicious reports whether rawURL matches an injection heuristic and names the
// first matching pattern. The URL is inspected raw and after each decoding round.
// Malformed escapes are left in place so they cannot hide the rest of the URL.
func DetectSuspicious(rawURL string) (string, bool) {
	candidate := rawURL
	for round := 0; round <= maxDecodeRounds; round++ {
		for _, p := range suspiciousPatterns {
			if p.re.MatchString(candidate) {
				return p.name, true
			}
		}
		decoded := lenientUnescape(candidate)
		if decoded == candidate {
			break
		}
		candidate = decoded
	}
	return "", false
}

// lenientUnescape decodes every valid %XX sequence and '+' in s, copying invalid
// escapes through unchanged.
func lenientUnescape(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		case c == '+':
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
