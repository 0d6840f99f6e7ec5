// Package driver implements the Agent Driver (C6): the per-conversation loop
// that repeatedly calls the LLM Service for one iteration at a time, layering
// on heartbeats, repetition detection, model-switch polling, and the
// three-layer interrupt cascade.
package driver

import (
	"context"
	"time"

	"github.com/kanbeast/kanbeast/internal/llm"
)

// Outcome is the Driver's terminal result, a superset of llm.Outcome adding
// the two conditions only the loop itself can detect.
type Outcome string

const (
	OutcomeCompleted            Outcome = Outcome(llm.OutcomeCompleted)
	OutcomeToolRequestedExit    Outcome = Outcome(llm.OutcomeToolRequestedExit)
	OutcomeLlmCallFailed        Outcome = Outcome(llm.OutcomeLlmCallFailed)
	OutcomeMaxIterationsReached Outcome = Outcome(llm.OutcomeMaxIterationsReached)
	OutcomeCostExceeded         Outcome = Outcome(llm.OutcomeCostExceeded)
	OutcomeRateLimited          Outcome = Outcome(llm.OutcomeRateLimited)
	OutcomeInterrupted          Outcome = Outcome(llm.OutcomeInterrupted)

	// OutcomeModelChanged means the hub requested a mid-loop model switch.
	// The caller (internal/orchestrator) resolves NewConfigID to a Service
	// and re-invokes Run, passing StartIteration/StartCost back in so the
	// budget and iteration count carry over across the switch.
	OutcomeModelChanged Outcome = "model_changed"

	// OutcomeRepetitionDetected means the same fingerprinted assistant turn
	// repeated repetitionKillThreshold times; the caller should fail the
	// conversation the same way it would an OutcomeLlmCallFailed.
	OutcomeRepetitionDetected Outcome = "repetition_detected"
)

// HubClient is the subset of the real-time hub (internal/hub) the driver
// needs: a per-iteration liveness signal and a way to learn about a
// server-initiated model switch without blocking the loop on it.
type HubClient interface {
	Heartbeat(ctx context.Context, conversationID string) error
	// PollModelSwitch returns the new LLM config id and true if the hub has
	// a pending switch request for this conversation.
	PollModelSwitch(conversationID string) (newConfigID string, ok bool)
}

// Options bundles everything Run needs beyond the conversation and the
// service to call against.
type Options struct {
	ConversationID string
	Hub            HubClient

	ContinueMessage    string
	ContinueOnToolExit bool

	MaxIterations int
	MaxCost       float64

	// StartIteration/StartCost resume a Run that returned OutcomeModelChanged;
	// zero for a fresh conversation.
	StartIteration int
	StartCost      float64

	Req llm.IterationRequest // Tools/Registry/ToolCtx/DispatchConcurrency carried through unmodified

	// OnIteration, when set, runs after every completed RunIteration call
	// (including the one that ends the loop) so the caller can record cost
	// and flush a conversation snapshot without waiting for Run to return.
	OnIteration func(res llm.IterationResult)

	// OnCompletion, when set, intercepts a plain-text completion before the
	// loop treats it as terminal. Returning true means the hook appended its
	// own follow-up message and the loop should keep running — SFCM's nudge
	// policy, where text with no tool calls inside a frame is a stall, not a
	// finish. Returning false lets the completion stand.
	OnCompletion func(content string) bool
}

// Result is what Run produced.
type Result struct {
	Outcome Outcome

	Content       string
	FinalToolName string
	FailMessage   string
	RetryAfter    time.Duration

	AccumulatedCost float64

	// NewConfigID/StartIteration/StartCost are populated on
	// OutcomeModelChanged so the orchestrator can resume the loop.
	NewConfigID    string
	StartIteration int
	StartCost      float64
}

// Run drives conv to completion against svc, one llm.Service.RunIteration
// call per loop turn, until a non-continue outcome is reached.
func Run(ctx context.Context, svc *llm.Service, conv llm.Conversation, opts Options) (Result, error) {
	iterationCount := opts.StartIteration
	accumulatedCost := opts.StartCost
	tracker := newRepetitionTracker()

	for {
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeInterrupted, AccumulatedCost: accumulatedCost}, nil
		default:
		}

		if opts.Hub != nil {
			if newConfigID, ok := opts.Hub.PollModelSwitch(opts.ConversationID); ok {
				return Result{
					Outcome:         OutcomeModelChanged,
					NewConfigID:     newConfigID,
					StartIteration:  iterationCount,
					StartCost:       accumulatedCost,
					AccumulatedCost: accumulatedCost,
				}, nil
			}
			// Heartbeat failures are not fatal to the loop; the watchdog
			// only acts on a prolonged absence of heartbeats.
			_ = opts.Hub.Heartbeat(ctx, opts.ConversationID)
		}

		req := opts.Req
		req.ContinueMessage = opts.ContinueMessage
		req.ContinueOnToolExit = opts.ContinueOnToolExit
		req.IterationCount = iterationCount
		req.MaxIterations = opts.MaxIterations
		req.AccumulatedCost = accumulatedCost
		req.MaxCost = opts.MaxCost

		res, err := svc.RunIteration(ctx, conv, req)
		if err != nil {
			return Result{Outcome: OutcomeLlmCallFailed, FailMessage: err.Error(), AccumulatedCost: accumulatedCost}, nil
		}
		accumulatedCost += res.CostDelta
		iterationCount++
		if opts.OnIteration != nil {
			opts.OnIteration(res)
		}

		if res.Outcome != llm.OutcomeContinue {
			nudged := res.Outcome == llm.OutcomeCompleted && opts.OnCompletion != nil && opts.OnCompletion(res.Content)
			if !nudged {
				return Result{
					Outcome:         Outcome(res.Outcome),
					Content:         res.Content,
					FinalToolName:   res.FinalToolName,
					FailMessage:     res.FailMessage,
					RetryAfter:      res.RetryAfter,
					AccumulatedCost: accumulatedCost,
				}, nil
			}
			// Nudged: fall through to repetition tracking so a model that
			// keeps stalling with the same text still trips the detector.
		}

		if res.AssistantContent == "" && len(res.ToolCalls) == 0 {
			continue
		}
		switch tracker.Observe(res.AssistantContent, res.ToolCalls) {
		case repetitionWarnThreshold:
			conv.Append(warningMessage())
		case repetitionKillThreshold:
			return Result{
				Outcome:         OutcomeRepetitionDetected,
				Content:         repetitionContext(conv.Messages(), 3),
				AccumulatedCost: accumulatedCost,
			}, nil
		}
	}
}
