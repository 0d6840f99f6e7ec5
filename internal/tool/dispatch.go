package tool

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultConcurrency bounds how many tool calls from one assistant turn run
// at once.
const DefaultConcurrency = 4

// Call is one model-issued tool invocation awaiting dispatch.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// DispatchResult pairs a Call with its outcome, preserving Index so callers
// can reassemble tool-result messages in the original order even though
// execution itself is concurrent.
type DispatchResult struct {
	Index    int
	Call     Call
	Result   ToolResult
	Err      error
	Started  time.Time
	Finished time.Time
}

// Dispatch runs calls concurrently against registry, bounded by
// concurrency (DefaultConcurrency if <= 0), truncating each response and
// preserving input order in the returned slice. A call naming an
// unregistered tool yields an error ToolResult rather than failing the
// batch.
func Dispatch(ctx context.Context, registry *Registry, calls []Call, tc *ToolContext, concurrency int) []DispatchResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make([]DispatchResult, len(calls))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c Call) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = DispatchResult{Index: idx, Call: c, Err: ctx.Err()}
				return
			}

			callCtx := WithToolCallID(ctx, c.ID)
			callTC := tc
			if callTC != nil {
				cp := *tc
				cp.ToolCallID = c.ID
				cp.Context = callCtx
				callTC = &cp
			}

			started := time.Now()
			t, ok := registry.Get(c.Name)
			if !ok {
				results[idx] = DispatchResult{
					Index: idx, Call: c, Started: started, Finished: time.Now(),
					Result: ToolResult{Response: "tool not found: " + c.Name},
				}
				return
			}

			res, err := t.Execute(callCtx, c.Arguments, callTC)
			res.Response = Truncate(res.Response)
			results[idx] = DispatchResult{Index: idx, Call: c, Result: res, Err: err, Started: started, Finished: time.Now()}
		}(i, call)
	}
	wg.Wait()
	return results
}
