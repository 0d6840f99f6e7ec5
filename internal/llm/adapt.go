package llm

import "strings"

// needsParallelToolCallAdaptation detects the one adaptable 4xx: a body
// mentioning
// parallel tool calls, or a generic 400 carrying "upstream_error" / "provider
// returned error", means this endpoint cannot handle parallel_tool_calls and
// the call should be retried once with it disabled.
func needsParallelToolCallAdaptation(status int, body []byte) bool {
	if status < 400 || status >= 500 {
		return false
	}
	s := strings.ToLower(string(body))
	if strings.Contains(s, "parallel_tool_calls") || strings.Contains(s, "parallel tool calls") {
		return true
	}
	if status == 400 && (strings.Contains(s, "upstream_error") || strings.Contains(s, "provider returned error")) {
		return true
	}
	return false
}

// isAuthError reports whether status marks this service as permanently
// down: 401/403. A bad key never fixes itself within one process.
func isAuthError(status int) bool { return status == 401 || status == 403 }
