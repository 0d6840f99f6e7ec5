package llm

import "testing"

func TestNeedsParallelToolCallAdaptation(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"parallel_tool_calls mentioned", 400, `{"error":"parallel_tool_calls not supported"}`, true},
		{"human readable phrase", 422, `Parallel tool calls are not supported by this model`, true},
		{"generic upstream error", 400, `{"error":"upstream_error: provider returned error"}`, true},
		{"unrelated 400", 400, `{"error":"invalid json"}`, false},
		{"5xx never adapts", 500, `parallel_tool_calls`, false},
		{"2xx never adapts", 200, `parallel_tool_calls`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := needsParallelToolCallAdaptation(c.status, []byte(c.body))
			if got != c.want {
				t.Errorf("needsParallelToolCallAdaptation(%d, %q) = %v, want %v", c.status, c.body, got, c.want)
			}
		})
	}
}

func TestIsAuthError(t *testing.T) {
	if !isAuthError(401) || !isAuthError(403) {
		t.Fatal("401/403 should be auth errors")
	}
	if isAuthError(400) || isAuthError(500) {
		t.Fatal("non-auth statuses misclassified")
	}
}
