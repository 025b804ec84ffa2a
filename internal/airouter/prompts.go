// ABOUTME: Fixed instruction templates for tool selection and summarization.
// ABOUTME: The selection template carries a placeholder replaced with the tool list.

package airouter

// toolsPlaceholder is replaced with the JSON tool catalog.
const toolsPlaceholder = "{{TOOLS}}"

const selectionPrompt = `You route natural-language requests to exactly one tool of a Meilisearch server.

Available tools (name, description, JSON Schema of the arguments):
{{TOOLS}}

Rules:
1. Reply with a single JSON object and nothing else. No prose, no markdown.
2. On success reply with:
   {"name": "<tool name>", "parameters": {<arguments>}, "reasoning": "<one sentence>"}
3. Required parameters must be taken verbatim from the request. Never invent a value
   the user did not give. Keep quoted text from the request exactly as written.
4. Leave optional parameters out unless the request sets them.
5. When you cannot produce a valid call reply with:
   {"name": "none", "error": {"code": "<CODE>", "message": "<why>", "missing_parameters": [<names>]}, "reasoning": "<one sentence>"}
   where <CODE> is one of:
   - NO_SUITABLE_TOOL: no listed tool does what the request asks
   - MISSING_REQUIRED_PARAMETERS: a tool fits but the request lacks required values
   - AMBIGUOUS_PARAMETER_VALUE: a value could mean several different things
   - INVALID_PARAMETER_VALUE: a value given in the request breaks the tool's schema
   - POLICY_VIOLATION: the request asks for something that must not be done`

const chunkSummaryPrompt = `Summarize the following excerpt of a Meilisearch API response.
Keep identifiers, counts, index names, task uids and error messages exactly as they appear.
Reply with plain text only.`

const synthesisPrompt = `The following are summaries of consecutive parts of one Meilisearch API response.
Combine them into a single concise summary. Do not repeat information and do not add anything
that is not in the summaries. Reply with plain text only.`
