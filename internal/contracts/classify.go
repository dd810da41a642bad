package contracts

import "strings"

// failureSignature is one entry of the classification taxonomy table: a
// predicate over the lower-cased last non-debug log line, and the kind it
// maps to. Grounded on the teacher's cmd/yolo-linear-worker/error_taxonomy.go
// table-of-matchers idiom.
type failureSignature struct {
	match func(string) bool
	kind  FailureKind
}

var failureTaxonomy = []failureSignature{
	{containsAny("network", "etimedout", "econnrefused", "connection reset", "dns", "no such host", "tls", "x509", "certificate"), FailureExternal},
	{containsAny("permission denied", "eacces", "forbidden", "401", "403", "unauthorized"), FailureExternal},
	{containsAny("npm install", "pip install", "go: downloading", "module not found", "package not found", "could not resolve"), FailureExternal},
	{containsAny("lockfile", "lock file", "resource temporarily unavailable"), FailureExternal},
}

// ClassifyFailure maps the last non-debug log line of a failed task
// attempt to internal or external per §7's taxonomy. Unmatched text is
// internal, never unknown — "unknown" is reserved for attempts where no
// log line was available at all.
func ClassifyFailure(lastLogLine string) FailureKind {
	if strings.TrimSpace(lastLogLine) == "" {
		return FailureUnknown
	}
	text := strings.ToLower(lastLogLine)
	for _, entry := range failureTaxonomy {
		if entry.match(text) {
			return entry.kind
		}
	}
	return FailureInternal
}

func containsAny(substrings ...string) func(string) bool {
	return func(text string) bool {
		for _, s := range substrings {
			if strings.Contains(text, s) {
				return true
			}
		}
		return false
	}
}

// LastNonDebugLine returns the last line of raw that is not blank and does
// not carry a "debug" log-level marker, trimmed of whitespace. Used to pick
// the line the classifier runs against out of a full agent stream.
func LastNonDebugLine(raw string) string {
	lines := strings.Split(raw, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "debug") || strings.Contains(strings.ToLower(line), "\"level\":\"debug\"") {
			continue
		}
		return line
	}
	return ""
}
