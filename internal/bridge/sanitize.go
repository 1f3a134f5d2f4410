package bridge

import "strings"

// The engine serializes float("inf") and float("nan") as bare Infinity and
// NaN literals, which is not valid JSON. The tokens are textually replaced
// with null before parsing. This is a deliberate, lossy compatibility shim:
// a string payload containing one of the tokens would be mangled too, but
// the engine never produces one.
var jsonSanitizer = strings.NewReplacer(
	"-Infinity", "null",
	"Infinity", "null",
	"NaN", "null",
)

// sanitizeJSON rewrites non-standard numeric literals so the message parses.
func sanitizeJSON(raw []byte) []byte {
	s := string(raw)
	if !strings.Contains(s, "Infinity") && !strings.Contains(s, "NaN") {
		return raw
	}
	return []byte(jsonSanitizer.Replace(s))
}
