package graph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// executeWithPolicy wraps one Extension.Execute call with the retry/HITL/
// error-handling state machine. It is the only place the
// scheduler's per-node error policy lives; extensions themselves only ever
// return a plain error on failure.
func executeWithPolicy(
	ctx context.Context,
	ext Extension,
	node *Node,
	ec *ExecutionContext,
	g *Graph,
	errCfg *ErrorHandlingConfig,
	hitlCfg *HITLConfig,
	hitlCb HITLCallback,
	cb Callbacks,
) (ExtensionResult, error) {
	if hitlCfg != nil && hitlCfg.Enabled {
		if res, handled, err := runHITL(ctx, ext, node, ec, g, hitlCfg, hitlCb, cb); handled {
			return res, err
		}
	}

	var retryCfg *RetryConfig
	mode := ModeStop
	if errCfg != nil {
		retryCfg = errCfg.Retry
		if errCfg.Mode != "" {
			mode = errCfg.Mode
		}
	}
	maxAttempts := 1
	if retryCfg != nil {
		maxAttempts = retryCfg.MaxRetries + 1
	}

	rng := seedRNG(ec.SessionID)
	var history []RetryAttempt
	attempt := 1
	for {
		res, err := ext.Execute(ctx, node, ec, g)
		if err == nil {
			return res, nil
		}

		code, _, retryAfter := Classify(err)
		if attempt < maxAttempts && Retryable(code, retryCfg) {
			if ec.Metrics != nil {
				ec.Metrics.IncrementRetries(node.ID, code)
			}
			history = append(history, RetryAttempt{Attempt: attempt, Error: err.Error(), Timestamp: time.Now()})
			base := time.Second
			max := 30 * time.Second
			if retryCfg != nil {
				if retryCfg.BaseDelay > 0 {
					base = retryCfg.BaseDelay
				}
				if retryCfg.MaxDelay > 0 {
					max = retryCfg.MaxDelay
				}
			}
			delay := RetryDelay(attempt, retryAfter, base, max, rng)
			select {
			case <-ctx.Done():
				return ExtensionResult{}, ctx.Err()
			case <-time.After(delay):
			}
			attempt++
			continue
		}

		se := NewStructuredError(err, node.ID, node.Type, maxAttempts)
		se.Retry.Attempts = attempt
		se.Retry.History = history
		if cb != nil {
			cb.OnNodeError(node.ID, se)
		}

		switch mode {
		case ModeBranch:
			branchTargets := g.OutgoingEdges(node.ID, HandleError)
			if len(branchTargets) > 0 {
				serialized, _ := json.Marshal(se)
				ec.SetOutput(node.ID+"_error", string(serialized))
				next := make([]string, len(branchTargets))
				for i, c := range branchTargets {
					next[i] = c.NodeID
				}
				return ExtensionResult{Output: "", NextNodes: next}, nil
			}
			return ExtensionResult{}, se
		case ModeContinue:
			var next []string
			for _, c := range g.OutgoingEdges(node.ID, "") {
				next = append(next, c.NodeID)
			}
			return ExtensionResult{Output: "", NextNodes: next}, nil
		default: // ModeStop
			return ExtensionResult{}, se
		}
	}
}

// runHITL dispatches the HITL pause for modes approval/input (pre-execute)
// and review (post-execute). handled=false means no HITL intervention was
// taken and the caller should fall through to normal execution.
func runHITL(
	ctx context.Context,
	ext Extension,
	node *Node,
	ec *ExecutionContext,
	g *Graph,
	cfg *HITLConfig,
	cb HITLCallback,
	callbacks Callbacks,
) (ExtensionResult, bool, error) {
	if cb == nil {
		return ExtensionResult{}, false, nil
	}

	switch cfg.Mode {
	case HITLApproval, HITLInput:
		req := buildHITLRequest(node, ec, cfg, "")
		if callbacks != nil {
			callbacks.OnHITLRequest(req)
		}
		resp, err := waitHITL(ctx, ec, cb, req, *cfg)
		if err != nil {
			return ExtensionResult{}, true, err
		}
		switch resp.Action {
		case ActionReject:
			rejected := g.OutgoingEdges(node.ID, HandleRejected)
			if len(rejected) > 0 {
				next := make([]string, len(rejected))
				for i, c := range rejected {
					next[i] = c.NodeID
				}
				return ExtensionResult{Output: "HITL: Rejected", NextNodes: next}, true, nil
			}
			return ExtensionResult{}, true, NewStructuredError(errHITLRejected, node.ID, node.Type, 1)
		case ActionSkip:
			var next []string
			for _, c := range g.OutgoingEdges(node.ID, "") {
				next = append(next, c.NodeID)
			}
			return ExtensionResult{Output: ec.CurrentInput, NextNodes: next}, true, nil
		case ActionSubmit, ActionApprove:
			if resp.Data != "" {
				ec.CurrentInput = resp.Data
			}
			return ExtensionResult{}, false, nil
		default:
			return ExtensionResult{}, false, nil
		}

	case HITLReview:
		res, err := ext.Execute(ctx, node, ec, g)
		if err != nil {
			return ExtensionResult{}, false, err
		}
		req := buildHITLRequest(node, ec, cfg, res.Output)
		if callbacks != nil {
			callbacks.OnHITLRequest(req)
		}
		resp, err := waitHITL(ctx, ec, cb, req, *cfg)
		if err != nil {
			return ExtensionResult{}, true, err
		}
		switch resp.Action {
		case ActionModify:
			res.Output = resp.Data
			return res, true, nil
		case ActionReject:
			rejected := g.OutgoingEdges(node.ID, HandleRejected)
			if len(rejected) > 0 {
				next := make([]string, len(rejected))
				for i, c := range rejected {
					next[i] = c.NodeID
				}
				return ExtensionResult{Output: "HITL: Rejected", NextNodes: next}, true, nil
			}
			res2, err2 := ext.Execute(ctx, node, ec, g)
			return res2, true, err2
		default: // approve
			return res, true, nil
		}
	}
	return ExtensionResult{}, false, nil
}

func buildHITLRequest(node *Node, ec *ExecutionContext, cfg *HITLConfig, output string) HITLRequest {
	req := HITLRequest{
		ID:        uuid.New().String(),
		NodeID:    node.ID,
		Mode:      cfg.Mode,
		Prompt:    cfg.Prompt,
		Options:   cfg.Options,
		CreatedAt: time.Now(),
		Context: HITLRequestContext{
			Input:        ec.CurrentInput,
			Output:       output,
			WorkflowName: ec.WorkflowName,
			SessionID:    ec.SessionID,
		},
	}
	if cfg.Timeout > 0 {
		expires := req.CreatedAt.Add(cfg.Timeout)
		req.ExpiresAt = &expires
	}
	return req
}

// waitHITL wraps awaitHITL with HITLCoordinator/metrics bookkeeping so every
// caller that pauses for a human gets counted in hitl_pending without having
// to remember to do it itself.
func waitHITL(ctx context.Context, ec *ExecutionContext, cb HITLCallback, req HITLRequest, cfg HITLConfig) (HITLResponse, error) {
	if ec.HITLCoord != nil {
		done := ec.HITLCoord.Begin()
		if ec.Metrics != nil {
			ec.Metrics.UpdateHITLPending(ec.HITLCoord.Pending())
		}
		defer func() {
			done()
			if ec.Metrics != nil {
				ec.Metrics.UpdateHITLPending(ec.HITLCoord.Pending())
			}
		}()
	}
	return awaitHITL(ctx, cb, req, cfg)
}
