// Package prompts holds the embedded system prompt files for each agent role.
// All prompts are compiled into the binary at build time via //go:embed so a
// deployed dash-gen binary has no runtime file dependencies.
//
// The prompt text is part of each agent's contract: the planner prompt pins
// the JSON outline schema, the resolver prompt pins the `data` variable and
// row-count print the validation step asserts on, and the repair prompt pins
// the full-script-only reply format the loop depends on.
package prompts

import (
	_ "embed"
)

// Planner instructs the model to turn a requirement into an ordered JSON
// capability outline.
//
//go:embed roles/planner.md
var Planner string

// Resolver instructs the model to produce a standalone data-fetch script.
//
//go:embed roles/resolver.md
var Resolver string

// Coder instructs the model to synthesize the complete dashboard script.
//
//go:embed roles/coder.md
var Coder string

// Repair instructs the model to fix a failing script given its diagnostics.
//
//go:embed roles/repair.md
var Repair string

// Review instructs the model to harden an already-working script.
//
//go:embed roles/review.md
var Review string
