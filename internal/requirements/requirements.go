// Package requirements extracts the prd-id from a requirements document
// and drives the one-shot translation of its body into a tasks file via a
// single agent invocation (§6.2, §3a).
package requirements

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/FacuVCanale/gralph/internal/contracts"
)

var prdIDLine = regexp.MustCompile(`(?m)^prd-id:\s*(\S+)\s*$`)

// ErrMissingPRDID is returned by ExtractPRDID when the document carries no
// prd-id line. Absence of this line is fatal before the run begins.
var ErrMissingPRDID = fmt.Errorf("requirements document is missing a %q line", "prd-id:")

// ExtractPRDID finds the first line matching ^prd-id:\s*(\S+)\s*$ in doc and
// returns its captured identifier.
func ExtractPRDID(doc string) (string, error) {
	match := prdIDLine.FindStringSubmatch(doc)
	if match == nil {
		return "", ErrMissingPRDID
	}
	return match[1], nil
}

const translationTemplate = `Translate the following requirements document into a tasks file.

Produce only a YAML document with this shape, nothing else:

version: 1
branchName: <slug of the title>
tasks:
  - id: <short stable id, e.g. t-1>
    title: <imperative task title>
    dependsOn: [<ids this depends on, omit if none>]
    mutex: [<shared resource names this task needs exclusively, omit if none>]
    touches: [<files or directories this task is expected to change, omit if unknown>]
    mergeNotes: <anything a future merge conflict resolver should know, omit if none>

Break the work into tasks small enough for one agent invocation each, and
record every real dependency between them as dependsOn — the scheduler runs
independent tasks in parallel, so a missing dependency is a correctness bug.

Requirements document:

%s
`

// Translator drives the one-shot translation-to-tasks-file invocation
// described in §3a: the whole requirements body plus the fixed instruction
// template above goes to a single agent call, and the agent's stdout is
// parsed as YAML by the caller (normally through taskstore's schema gate,
// the same one any hand-written tasks file goes through).
type Translator struct {
	Engine contracts.Engine
	Model  string
}

// Translate sends doc's body to the configured engine and returns its raw
// response for the caller to validate and persist as tasks.yaml.
func (t *Translator) Translate(ctx context.Context, runDir, doc string) (string, error) {
	if t.Engine == nil {
		return "", fmt.Errorf("requirements: no translation engine configured")
	}
	prompt := fmt.Sprintf(translationTemplate, strings.TrimSpace(doc))

	result, err := t.Engine.Run(ctx, contracts.RunnerRequest{
		Prompt:   prompt,
		Mode:     contracts.RunnerModeImplement,
		Model:    t.Model,
		RepoRoot: runDir,
	})
	if err != nil {
		return "", fmt.Errorf("requirements: translation invocation failed: %w", err)
	}
	if result.Status != contracts.RunnerResultCompleted {
		return "", fmt.Errorf("requirements: translation invocation did not complete: %s", result.Reason)
	}
	if result.LogPath == "" {
		return "", fmt.Errorf("requirements: translation invocation produced no log output")
	}
	raw, err := os.ReadFile(result.LogPath)
	if err != nil {
		return "", fmt.Errorf("requirements: read translation output %q: %w", result.LogPath, err)
	}
	return string(raw), nil
}
