package worker

import (
	"encoding/json"
	"os"
	"regexp"

	"github.com/tidwall/gjson"
)

// eventRefPattern matches ${event.<jsonpath>} references in a worker's args.
var eventRefPattern = regexp.MustCompile(`\$\{event\.([^}]*)\}`)

// ExpandArgs expands every arg against the triggering event's payload and
// the process environment, per spec.md §4.5 "Argument expansion":
// ${event.<jsonpath>} resolves against payload, then $VAR/${VAR} resolve
// against the environment. Unknown references resolve to empty string.
func ExpandArgs(args []string, payload json.RawMessage) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = ExpandArg(a, payload)
	}
	return out
}

// ExpandArg expands a single argument string.
func ExpandArg(arg string, payload json.RawMessage) string {
	withEvent := eventRefPattern.ReplaceAllStringFunc(arg, func(m string) string {
		sub := eventRefPattern.FindStringSubmatch(m)
		if len(sub) < 2 {
			return ""
		}
		res := gjson.GetBytes(payload, sub[1])
		if !res.Exists() {
			return ""
		}
		return res.String()
	})
	return os.Expand(withEvent, os.Getenv)
}
