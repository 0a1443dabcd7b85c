package graph

import (
	"context"
	"sync/atomic"
	"time"
)

// HITLMode selects when a human-in-the-loop pause happens and how the
// response is applied.
type HITLMode string

const (
	HITLApproval HITLMode = "approval"
	HITLInput    HITLMode = "input"
	HITLReview   HITLMode = "review"
)

// HITLAction is the human's decision in a HITLResponse.
type HITLAction string

const (
	ActionApprove HITLAction = "approve"
	ActionReject  HITLAction = "reject"
	ActionSubmit  HITLAction = "submit"
	ActionModify  HITLAction = "modify"
	ActionSkip    HITLAction = "skip"
)

// HITLRequestContext is the workflow state shown to the human approver.
type HITLRequestContext struct {
	Input        string
	Output       string
	WorkflowName string
	SessionID    string
}

// HITLRequest is issued by the wrapper when a node's HITL policy pauses
// execution.
type HITLRequest struct {
	ID          string
	NodeID      string
	NodeLabel   string
	Mode        HITLMode
	Prompt      string
	Context     HITLRequestContext
	Options     []string
	InputSchema map[string]any
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// HITLResponse is the human's answer to a HITLRequest.
type HITLResponse struct {
	RequestID   string
	Action      HITLAction
	Data        string
	RespondedAt time.Time
}

// HITLCallback dispatches a request and blocks for the human response. The
// engine races it against the abort signal and ExpiresAt.
type HITLCallback func(ctx context.Context, req HITLRequest) (HITLResponse, error)

// HITLConfig is the per-node HITL policy.
type HITLConfig struct {
	Enabled       bool
	Mode          HITLMode
	Prompt        string
	Options       []string
	Timeout       time.Duration // 0 = no timeout
	DefaultAction HITLAction    // applied on timeout, default reject
}

// awaitHITL dispatches req via cb and waits for a response, racing the
// abort signal and an optional deadline. Abort returns ctx.Err(). Reaching
// ExpiresAt synthesizes a response from cfg.DefaultAction (reject if unset).
// The deadline is a single timer armed, when the wait begins, for the time
// left until ExpiresAt; it is not polled or re-checked against the wall
// clock.
func awaitHITL(ctx context.Context, cb HITLCallback, req HITLRequest, cfg HITLConfig) (HITLResponse, error) {
	defaultAction := cfg.DefaultAction
	if defaultAction == "" {
		defaultAction = ActionReject
	}

	respCh := make(chan HITLResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := cb(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	var timeoutCh <-chan time.Time
	if req.ExpiresAt != nil {
		d := time.Until(*req.ExpiresAt)
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case err := <-errCh:
		return HITLResponse{}, err
	case <-ctx.Done():
		return HITLResponse{}, ctx.Err()
	case <-timeoutCh:
		return HITLResponse{RequestID: req.ID, Action: defaultAction, RespondedAt: time.Now()}, nil
	}
}

// HITLCoordinator tracks how many HITL requests a run has outstanding. It
// mirrors the admission-bookkeeping half of the scheduler's work-item
// frontier: a pending count the metrics gauge can read without reaching
// into the wrapper's call stack. It holds no request data itself — callers
// still carry the HITLRequest/HITLResponse through awaitHITL directly.
type HITLCoordinator struct {
	pending atomic.Int64
}

// NewHITLCoordinator returns a coordinator with zero requests outstanding.
func NewHITLCoordinator() *HITLCoordinator {
	return &HITLCoordinator{}
}

// Begin marks one HITL request as outstanding. Callers must call the
// returned func exactly once, however the wait resolves.
func (c *HITLCoordinator) Begin() (done func()) {
	if c == nil {
		return func() {}
	}
	c.pending.Add(1)
	var once int32
	return func() {
		if atomic.CompareAndSwapInt32(&once, 0, 1) {
			c.pending.Add(-1)
		}
	}
}

// Pending reports how many HITL requests this run is currently waiting on.
func (c *HITLCoordinator) Pending() int {
	if c == nil {
		return 0
	}
	return int(c.pending.Load())
}
