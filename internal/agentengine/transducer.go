package agentengine

import "strings"

// Stage is the coarse label the stream transducer derives from tool names
// observed in an engine's output stream.
type Stage string

const (
	StageReading      Stage = "reading"
	StageImplementing Stage = "implementing"
	StageTesting      Stage = "testing"
	StageLinting      Stage = "linting"
	StageCommitting   Stage = "committing"
)

// stageSignature is one entry of the stage taxonomy table: a predicate over
// a lower-cased stream line, and the stage it advances the transducer to.
// Grounded on the same table-of-matchers idiom as contracts.ClassifyFailure.
type stageSignature struct {
	match func(string) bool
	stage Stage
}

var stageTaxonomy = []stageSignature{
	{containsAny("go test", "pytest", "npm test", "npm run test", "jest", "cargo test", "rspec", "running tests"), StageTesting},
	{containsAny("golangci-lint", "go vet", "eslint", "ruff", "flake8", "npm run lint", "shellcheck"), StageLinting},
	{containsAny("git commit", "git add", "git push", "committing"), StageCommitting},
	{containsAny("reading ", "cat ", "grep ", "rg ", "ls ", "viewing ", "searching "), StageReading},
	{containsAny("editing ", "writing ", "creating ", "applying patch", "modifying "), StageImplementing},
}

// stageTransducer is the small finite-state machine that tracks an engine
// stream's coarse stage: a line advances the stage on a match and the
// transducer holds that stage until the next one, since most lines (plain
// narration, JSON blobs with no recognized verb) carry no stage information
// of their own. One transducer is scoped to a single invocation.
type stageTransducer struct {
	stage Stage
}

func newStageTransducer() *stageTransducer {
	return &stageTransducer{stage: StageReading}
}

// observe inspects line, advances the held stage on a match, and returns
// the stage now in effect.
func (t *stageTransducer) observe(line string) Stage {
	text := strings.ToLower(line)
	for _, entry := range stageTaxonomy {
		if entry.match(text) {
			t.stage = entry.stage
			break
		}
	}
	return t.stage
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
