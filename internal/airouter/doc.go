// Package airouter turns a natural-language request into a tool call.
//
// # Routing
//
// [Router.Route] shows the language model every non-core tool (name,
// description and input schema) and asks for a single JSON object naming one
// tool and its arguments. The reply is never trusted to be clean JSON: see
// [Recover]. The resulting [Decision] is checked against the registry before
// it is returned. Unknown tools and missing required arguments become a
// decision carrying the [NoTool] sentinel and a reason code instead of an
// error, so callers can tell "nothing fits" apart from "the model is broken".
//
// # Failure codes
//
// Decisions carry NO_SUITABLE_TOOL, MISSING_REQUIRED_PARAMETERS,
// AMBIGUOUS_PARAMETER_VALUE, INVALID_PARAMETER_VALUE or POLICY_VIOLATION.
// A [*RouteError] carries MALFORMED_MODEL_OUTPUT or BACKEND_UNAVAILABLE.
//
// # Summaries
//
// [Router.Summarize] condenses long tool output. Text over the chunk size is
// split, summarized chunk by chunk in parallel, and then synthesized in one
// final call.
package airouter
