package prompt

// Template names used by the selection and synthesis stages.
const (
	SelectSystem     = "select-system.md"
	SelectUser       = "select-user.md"
	SynthesizeSystem = "synthesize-system.md"
	SynthesizeUser   = "synthesize-user.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	SelectSystem:     selectSystemTemplate,
	SelectUser:       selectUserTemplate,
	SynthesizeSystem: synthesizeSystemTemplate,
	SynthesizeUser:   synthesizeUserTemplate,
}

const selectSystemTemplate = `You are a build-fixing assistant.
Given verification output and a repository file list, select the smallest set of files most likely related to the failure.

Rules:
- Select between 1 and {{max_files}} files.
- DO NOT select test files (anything under a tests/ directory or named like a test).
- DO NOT select sensitive files (paths containing {{sensitive_markers}}).
- DO NOT select documentation files (README, *.md, *.rst).
{{#if source_roots}}- Prefer source files under {{source_roots}}.
{{/if}}- Return ONLY valid JSON matching this schema:
{"files": ["path1", "path2"], "confidence": 0.0, "rationale": "..."}
`

const selectUserTemplate = `TASK:
{{task}}

VERIFICATION OUTPUT:
{{failure_output}}
{{#if hypotheses}}
SUSPECTED LOCATIONS:
{{hypotheses}}
{{/if}}
REPO FILES (paths):
{{repo_files}}
{{#if reminder}}

{{reminder}}
{{/if}}`

const synthesizeSystemTemplate = `You fix a failing verification suite by editing source files.

STRICT RULES:
- Only modify the provided SOURCE files.
- Tests are READ-ONLY.
- Do NOT modify tests or documentation files.
- Make the smallest possible change (minimal diff).
- Output MUST be valid JSON ONLY. No markdown, no code fences.
- Return ONLY JSON with top-level key "updates" (a list).
- Each update: {"path": string, "content": string} where content is the FULL file.
- Optional keys: "summary" (one sentence) and "confidence" (0.0 to 1.0).
- If no change is needed: {"updates": []}.
`

const synthesizeUserTemplate = `TASK:
{{task}}
{{#if reminder}}

{{reminder}}
{{/if}}

RUN INFO:
{{run_info}}

FAILURES (FAILURES SECTION):
{{failures_compact}}

FAILURES (PARSED KEY LINES):
{{failures_parsed}}
{{#if hypotheses}}

SUSPECTED LOCATIONS:
{{hypotheses}}
{{/if}}
{{#if advisory}}

OTHER CHECKS:
{{advisory}}
{{/if}}

READ-ONLY TESTS:
{{tests}}

SOURCE FILES (you may modify only these):
{{files}}
`
