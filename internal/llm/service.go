package llm

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/tool"
)

// Outcome is the terminal (or continue) state of one RunIteration call. The
// Agent Driver (internal/driver) loops RunIteration until it sees anything
// other than OutcomeContinue.
type Outcome string

const (
	OutcomeContinue             Outcome = "continue"
	OutcomeCompleted            Outcome = "completed"
	OutcomeToolRequestedExit    Outcome = "tool_requested_exit"
	OutcomeLlmCallFailed        Outcome = "llm_call_failed"
	OutcomeMaxIterationsReached Outcome = "max_iterations_reached"
	OutcomeCostExceeded         Outcome = "cost_exceeded"
	OutcomeRateLimited          Outcome = "rate_limited"
	OutcomeInterrupted          Outcome = "interrupted"
)

// Conversation is the minimal surface RunIteration needs from either
// conversation strategy (internal/convo.CompactingConversation or
// internal/sfcm.Conversation).
type Conversation interface {
	Messages() []convo.Message
	Append(convo.Message)
}

// IterationRequest carries everything RunIteration needs beyond the
// conversation itself: loop bookkeeping the caller (the Agent Driver) owns,
// and the role-scoped toolset for this call.
type IterationRequest struct {
	ContinueMessage    string
	ContinueOnToolExit bool
	FinalizeOnExit     bool

	IterationCount int
	MaxIterations  int

	AccumulatedCost float64
	MaxCost         float64 // 0 = unlimited

	QueuedUserMessages []string

	Tools    []tool.Tool
	Registry *tool.Registry
	ToolCtx  *tool.ToolContext

	DispatchConcurrency int
}

// IterationResult is what one RunIteration call produced.
type IterationResult struct {
	Outcome Outcome

	// Content is the model's final text, populated on OutcomeCompleted and
	// (as the last few assistant turns) on OutcomeMaxIterationsReached.
	Content string

	// FinalToolName is set on OutcomeToolRequestedExit.
	FinalToolName string

	// FailMessage is set on OutcomeLlmCallFailed.
	FailMessage string

	// RetryAfter is set on OutcomeRateLimited.
	RetryAfter time.Duration

	// CostDelta is this iteration's contribution to accumulated cost.
	CostDelta float64

	// InputTokens/OutputTokens are the raw usage counts behind CostDelta,
	// zero when no HTTP call actually completed (e.g. OutcomeRateLimited).
	InputTokens  int
	OutputTokens int

	// AssistantContent/ToolCalls mirror the assistant turn just appended
	// (empty if none was), for the driver's repetition fingerprinting.
	AssistantContent string
	ToolCalls        []convo.ToolCall
}

// Service represents one endpoint+model+key (an LLMConfig instance). It is
// safe for concurrent use: RunIteration may be called from many driver
// goroutines (Developer + its concurrently dispatched Sub-agents) against
// the same Service.
type Service struct {
	cfg  Config
	http *http.Client

	mu sync.Mutex
	st state
}

// New builds a Service for cfg. An http.Client with no special transport is
// used unless httpClient is non-nil (tests inject a stub transport here).
func New(cfg Config, httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Service{cfg: cfg, http: httpClient}
}

// Config returns the service's immutable configuration.
func (s *Service) Config() Config { return s.cfg }

// IsAvailable reports whether the service can take a call: not
// permanently down, and the rate-limit cooldown (if any) has elapsed.
func (s *Service) IsAvailable(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.st.isPermanentlyDown && !now.Before(s.st.availableAt)
}

// AvailableAt returns the time the service becomes available again (zero
// value if already available).
func (s *Service) AvailableAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.availableAt
}

// WaitInPlace blocks until the service becomes available, up to maxWait,
// implementing the "caller may wait up to 20s in-place" rule. Returns false
// if the wait would exceed maxWait (caller should surface RateLimited
// upward instead) or ctx is cancelled first.
func (s *Service) WaitInPlace(ctx context.Context, maxWait time.Duration) bool {
	now := time.Now()
	at := s.AvailableAt()
	if !at.After(now) {
		return true
	}
	if at.Sub(now) > maxWait {
		return false
	}
	t := time.NewTimer(at.Sub(now))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// UpdateNotes mutates the service's planner-facing strengths/weaknesses
// notes in place.
func (s *Service) UpdateNotes(strengths, weaknesses string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Strengths = strengths
	s.cfg.Weaknesses = weaknesses
}

// kickoffUrgencyThreshold is the turns-remaining level at which the
// synthesized kickoff message gains an urgency notice.
const kickoffUrgencyThreshold = 5

var xmlToolCallRe = regexp.MustCompile(`(?s)<(?:tool_call|function_call)>\s*(\{.*?\})\s*</(?:tool_call|function_call)>`)

// RunIteration executes the per-iteration protocol exactly once: the
// preflight max-iteration/budget checks, kickoff-message synthesis, the
// HTTP call (with its own bounded 5xx/transport retry), response
// classification, and tool dispatch. The caller (internal/driver) loops
// this until the outcome is not OutcomeContinue.
func (s *Service) RunIteration(ctx context.Context, conv Conversation, req IterationRequest) (IterationResult, error) {
	if req.IterationCount >= req.MaxIterations {
		return IterationResult{Outcome: OutcomeMaxIterationsReached, Content: lastAssistantTurns(conv.Messages(), 3)}, nil
	}
	if req.MaxCost > 0 {
		remaining := req.MaxCost - req.AccumulatedCost
		if remaining <= 0 {
			return IterationResult{Outcome: OutcomeCostExceeded}, nil
		}
	}

	for _, text := range req.QueuedUserMessages {
		conv.Append(convo.Message{Role: convo.RoleUser, Content: text, CreatedAt: time.Now()})
	}

	msgs := conv.Messages()
	if len(msgs) == 0 || !msgs[len(msgs)-1].IsUserOrTool() {
		messagesRemaining := req.MaxIterations - req.IterationCount
		kickoff := strings.ReplaceAll(req.ContinueMessage, "{messagesRemaining}", fmt.Sprintf("%d", messagesRemaining))
		if messagesRemaining <= kickoffUrgencyThreshold {
			kickoff += fmt.Sprintf("\n\n(Urgency: only %d turn(s) remain before this conversation is cut off.)", messagesRemaining)
		}
		conv.Append(convo.Message{Role: convo.RoleUser, Content: kickoff, CreatedAt: time.Now()})
	}

	resp, status, header, body, err := s.postChatCompletion(ctx, conv.Messages(), req.Tools)
	if err != nil {
		if ctx.Err() != nil {
			conv.Append(convo.Message{Role: convo.RoleSystem, Content: "Interrupted mid-call.", CreatedAt: time.Now()})
			return IterationResult{Outcome: OutcomeInterrupted}, nil
		}
		return s.handleTransportFailure(ctx, conv, req)
	}

	switch {
	case status == http.StatusOK:
		return s.handleSuccess(ctx, conv, req, resp, body)
	case isAuthError(status):
		s.markPermanentlyDown()
		return IterationResult{Outcome: OutcomeLlmCallFailed, FailMessage: fmt.Sprintf("auth error (status %d)", status)}, nil
	case IsRateLimited(status, body):
		seconds, _ := ParseRetryAfter(header, body)
		wait := time.Duration(seconds) * time.Second
		s.mu.Lock()
		s.st.availableAt = time.Now().Add(wait)
		s.mu.Unlock()
		return IterationResult{Outcome: OutcomeRateLimited, RetryAfter: wait}, nil
	case needsParallelToolCallAdaptation(status, body):
		s.mu.Lock()
		alreadyDisabled := s.st.parallelDisabled
		s.st.parallelDisabled = true
		s.mu.Unlock()
		if alreadyDisabled {
			// Already adapted once; this is a second failure of the same
			// shape, so fall through to a normal non-permanent failure
			// instead of retrying forever.
			return IterationResult{Outcome: OutcomeLlmCallFailed, FailMessage: string(body)}, nil
		}
		return s.RunIteration(ctx, conv, req)
	case status >= 500:
		return s.handleTransportFailure(ctx, conv, req)
	default:
		return IterationResult{Outcome: OutcomeLlmCallFailed, FailMessage: fmt.Sprintf("status %d: %s", status, string(body))}, nil
	}
}

// handleTransportFailure implements the bounded 5xx/transport retry: delays
// of min(3*attempt, 15)s, up to hasSucceeded?3:1 attempts, after which the
// service is marked temporarily down for 5 minutes.
func (s *Service) handleTransportFailure(ctx context.Context, conv Conversation, req IterationRequest) (IterationResult, error) {
	s.mu.Lock()
	maxAttempts := 1
	if s.st.hasSucceeded {
		maxAttempts = 3
	}
	s.mu.Unlock()

	var lastErr string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		delay := time.Duration(attempt*3) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			conv.Append(convo.Message{Role: convo.RoleSystem, Content: "Interrupted during retry backoff.", CreatedAt: time.Now()})
			return IterationResult{Outcome: OutcomeInterrupted}, nil
		}
		resp, status, _, body, err := s.postChatCompletion(ctx, conv.Messages(), req.Tools)
		if err == nil && status == http.StatusOK {
			return s.handleSuccess(ctx, conv, req, resp, body)
		}
		if err != nil {
			lastErr = err.Error()
		} else {
			lastErr = fmt.Sprintf("status %d: %s", status, string(body))
		}
	}

	s.mu.Lock()
	s.st.availableAt = time.Now().Add(5 * time.Minute)
	s.mu.Unlock()
	return IterationResult{Outcome: OutcomeLlmCallFailed, FailMessage: lastErr}, nil
}

func (s *Service) markPermanentlyDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.isPermanentlyDown = true
}

// handleSuccess classifies a 200 response: cost accounting, empty-turn
// skipping, XML tool-call fallback, and concurrent tool dispatch with
// in-order tool-result appends.
func (s *Service) handleSuccess(ctx context.Context, conv Conversation, req IterationRequest, resp *openai.ChatCompletionResponse, raw []byte) (IterationResult, error) {
	s.mu.Lock()
	s.st.hasSucceeded = true
	s.mu.Unlock()

	if len(resp.Choices) == 0 {
		return IterationResult{Outcome: OutcomeLlmCallFailed, FailMessage: "empty choices in response"}, nil
	}
	choice := resp.Choices[0].Message
	content := strings.TrimSpace(choice.Content)
	cost := s.costOf(resp.Usage, raw)

	calls := convertToolCalls(choice.ToolCalls)
	if len(calls) == 0 {
		if parsed, ok := parseXMLToolCalls(content, req.Tools); ok {
			calls = parsed
			content = ""
		}
	}

	if content == "" && len(calls) == 0 {
		// Skip the turn entirely: no assistant message is appended, but the
		// cost of the call still counts.
		return IterationResult{Outcome: OutcomeContinue, CostDelta: cost, InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}, nil
	}

	assistantMsg := convo.Message{Role: convo.RoleAssistant, Content: content, CreatedAt: time.Now()}
	for _, c := range calls {
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, convo.ToolCall{ID: freshID(), Name: c.Name, Arguments: c.Arguments})
	}
	conv.Append(assistantMsg)

	if len(calls) == 0 {
		return IterationResult{Outcome: OutcomeCompleted, Content: content, CostDelta: cost, AssistantContent: content, InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}, nil
	}

	dispatchCalls := make([]tool.Call, len(assistantMsg.ToolCalls))
	for i, tc := range assistantMsg.ToolCalls {
		dispatchCalls[i] = tool.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	results := tool.Dispatch(ctx, req.Registry, dispatchCalls, req.ToolCtx, req.DispatchConcurrency)

	exitLoop := false
	finalToolName := ""
	for _, r := range results {
		if !r.Result.MessageHandled {
			resp := r.Result.Response
			if r.Err != nil {
				resp = "Error: " + r.Err.Error()
			}
			conv.Append(convo.Message{Role: convo.RoleTool, ToolCallID: r.Call.ID, Content: resp, CreatedAt: time.Now()})
		}
		if r.Result.ExitLoop {
			exitLoop = true
			finalToolName = r.Call.Name
		}
	}

	if exitLoop && !req.ContinueOnToolExit {
		return IterationResult{
			Outcome: OutcomeToolRequestedExit, FinalToolName: finalToolName, CostDelta: cost,
			AssistantContent: content, ToolCalls: assistantMsg.ToolCalls,
			InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens,
		}, nil
	}
	return IterationResult{
		Outcome: OutcomeContinue, CostDelta: cost, AssistantContent: content, ToolCalls: assistantMsg.ToolCalls,
		InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// costOf prefers the endpoint's own usage.cost figure (OpenRouter reports
// a precomputed dollar amount there); token-price math is the fallback.
func (s *Service) costOf(usage openai.Usage, raw []byte) float64 {
	var aux struct {
		Usage struct {
			Cost *float64 `json:"cost"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &aux); err == nil && aux.Usage.Cost != nil {
		return *aux.Usage.Cost
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return 0
	}
	in := float64(usage.PromptTokens) / 1_000_000 * s.cfg.InputPrice
	out := float64(usage.CompletionTokens) / 1_000_000 * s.cfg.OutputPrice
	return in + out
}

// rawToolCall is a name+arguments pair parsed either from the response's
// native tool_calls field or from the XML fallback.
type rawToolCall struct {
	Name      string
	Arguments json.RawMessage
}

func convertToolCalls(in []openai.ToolCall) []rawToolCall {
	out := make([]rawToolCall, 0, len(in))
	for _, tc := range in {
		name := strings.TrimSpace(tc.Function.Name)
		if name == "" {
			continue
		}
		out = append(out, rawToolCall{Name: name, Arguments: json.RawMessage(tc.Function.Arguments)})
	}
	return out
}

// parseXMLToolCalls is the fallback for models that emit tool calls as
// text instead of the structured field: content wrapping a
// JSON {name, arguments} object in <tool_call> or <function_call> tags,
// where name and argument keys match a declared tool.
func parseXMLToolCalls(content string, tools []tool.Tool) ([]rawToolCall, bool) {
	matches := xmlToolCallRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, false
	}
	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t.Name()] = true
	}
	var out []rawToolCall
	for _, m := range matches {
		var payload struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
			continue
		}
		if !known[payload.Name] {
			continue
		}
		out = append(out, rawToolCall{Name: payload.Name, Arguments: payload.Arguments})
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// lastAssistantTurns returns the last n assistant message contents joined,
// used as the MaxIterationsReached outcome's content.
func lastAssistantTurns(msgs []convo.Message, n int) string {
	var picked []string
	for i := len(msgs) - 1; i >= 0 && len(picked) < n; i-- {
		if msgs[i].Role == convo.RoleAssistant {
			picked = append([]string{msgs[i].Content}, picked...)
		}
	}
	return strings.Join(picked, "\n---\n")
}

func freshID() string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	return fmt.Sprintf("call_%x", n)
}

// postChatCompletion performs the raw HTTP round trip so status code and
// response headers (needed for rate-limit parsing) are visible to the
// caller; go-openai's request/response/message/tool types are used for wire
// compatibility, but the transport itself is handled directly rather than
// through openai.Client so the classification logic has what it needs.
func (s *Service) postChatCompletion(ctx context.Context, msgs []convo.Message, tools []tool.Tool) (*openai.ChatCompletionResponse, int, http.Header, []byte, error) {
	s.mu.Lock()
	parallelDisabled := s.st.parallelDisabled
	s.mu.Unlock()

	body := openai.ChatCompletionRequest{
		Model:            s.cfg.Model,
		Messages:         toOpenAIMessages(msgs),
		Tools:            toOpenAITools(tools),
		Temperature:      s.cfg.Temperature,
		TopP:             1,
		FrequencyPenalty: 0.1,
		Seed:             randSeed(),
	}
	if !parallelDisabled && !s.cfg.DisableAutoParallelToolCalls {
		t := true
		body.ParallelToolCalls = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	httpResp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, 0, nil, nil, err
	}
	defer httpResp.Body.Close()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, httpResp.Header, nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, httpResp.StatusCode, httpResp.Header, raw, nil
	}
	var out openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, httpResp.StatusCode, httpResp.Header, raw, err
	}
	return &out, httpResp.StatusCode, httpResp.Header, raw, nil
}

func toOpenAIMessages(msgs []convo.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []tool.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params any
		_ = json.Unmarshal(t.Schema(), &params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  params,
			},
		})
	}
	return out
}

func randSeed() *int {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<31))
	if err != nil {
		return nil
	}
	v := int(n.Int64())
	return &v
}
