package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors raised by the scheduler, the policy wrapper and the
// built-in extensions.
var (
	ErrMaxIterationsExceeded   = errors.New("scheduler exceeded maximum iterations")
	ErrMaxNodeExecutionsExceeded = errors.New("node exceeded maximum execution count")
	ErrNoStartNode             = errors.New("workflow has no start node")
	ErrUnknownExtension        = errors.New("no extension registered for node type")
	ErrSubflowDepthExceeded    = errors.New("subflow nesting exceeded maximum depth")
	ErrCancelled               = errors.New("workflow cancelled")
	ErrInvalidRetryPolicy      = errors.New("invalid retry policy")
	errHITLRejected            = errors.New("HITL: Rejected")
)

// ErrorCode is the structured error taxonomy.
type ErrorCode string

const (
	CodeLLMError    ErrorCode = "LLM_ERROR"
	CodeTimeout     ErrorCode = "TIMEOUT"
	CodeRateLimit   ErrorCode = "RATE_LIMIT"
	CodeAuth        ErrorCode = "AUTH"
	CodeValidation  ErrorCode = "VALIDATION"
	CodeNetwork     ErrorCode = "NETWORK"
	CodeUnknown     ErrorCode = "UNKNOWN"
)

// RetryAttempt records one failed attempt for a node's retry history.
type RetryAttempt struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// RetryInfo tracks the retry state carried on a StructuredError.
type RetryInfo struct {
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"maxAttempts"`
	History     []RetryAttempt `json:"history"`
}

// RateLimitInfo is populated when the error wraps a *ProviderError whose
// status code classified and which carried a RetryAfter value, whatever the
// resulting code; only RetryAfter is filled in.
type RateLimitInfo struct {
	Limit      int       `json:"limit,omitempty"`
	Remaining  int       `json:"remaining,omitempty"`
	ResetAt    time.Time `json:"resetAt,omitempty"`
	RetryAfter float64   `json:"retryAfter,omitempty"` // seconds
}

// StructuredError is the taxonomy-classified error surfaced by the scheduler
// boundary. It never mutates the original error; Cause wraps it.
type StructuredError struct {
	Message    string         `json:"message"`
	Code       ErrorCode      `json:"code"`
	NodeID     string         `json:"nodeId"`
	NodeType   NodeType       `json:"nodeType"`
	StatusCode int            `json:"statusCode,omitempty"`
	Retry      RetryInfo      `json:"retry"`
	RateLimit  *RateLimitInfo `json:"rateLimit,omitempty"`
	Cause      error          `json:"-"`
}

func (e *StructuredError) Error() string {
	if e.NodeID != "" {
		return string(e.Code) + " in node " + e.NodeID + ": " + e.Message
	}
	return string(e.Code) + ": " + e.Message
}

func (e *StructuredError) Unwrap() error { return e.Cause }

// ProviderError is the shape extensions should wrap provider/tool failures
// in when status codes or rate-limit headers are available for
// classification. Extensions that raise a plain error still classify fine
// via keyword matching.
type ProviderError struct {
	Err        error
	StatusCode int
	RetryAfter float64 // seconds, 0 if absent
}

func (e *ProviderError) Error() string { return e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// Classify derives an ErrorCode from err: status code first (if the error
// is or wraps a *ProviderError), then message-keyword classification.
func Classify(err error) (ErrorCode, int, float64) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if code, ok := classifyStatus(pe.StatusCode); ok {
			return code, pe.StatusCode, pe.RetryAfter
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return CodeTimeout, 0, 0
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return CodeRateLimit, 0, 0
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return CodeAuth, 0, 0
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return CodeValidation, 0, 0
	case strings.Contains(msg, "fetch") || strings.Contains(msg, "econnrefused") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "network"):
		return CodeNetwork, 0, 0
	case strings.Contains(msg, "5") && len(msg) >= 3 && msg[:3] >= "500" && msg[:3] <= "599":
		return CodeLLMError, 0, 0
	default:
		return CodeUnknown, 0, 0
	}
}

func classifyStatus(status int) (ErrorCode, bool) {
	switch {
	case status == 429:
		return CodeRateLimit, true
	case status == 401 || status == 403:
		return CodeAuth, true
	case status == 408 || status == 504:
		return CodeTimeout, true
	case status >= 500:
		return CodeLLMError, true
	case status >= 400:
		return CodeValidation, true
	default:
		return "", false
	}
}

// NewStructuredError builds a StructuredError from a raw error raised by an
// extension, classifying it and attaching node identity. It never mutates
// the original error.
func NewStructuredError(err error, nodeID string, nodeType NodeType, maxAttempts int) *StructuredError {
	code, status, retryAfter := Classify(err)
	se := &StructuredError{
		Message:    err.Error(),
		Code:       code,
		NodeID:     nodeID,
		NodeType:   nodeType,
		StatusCode: status,
		Retry:      RetryInfo{MaxAttempts: maxAttempts},
		Cause:      err,
	}
	if retryAfter > 0 {
		se.RateLimit = &RateLimitInfo{RetryAfter: retryAfter}
	}
	return se
}

// RetryConfig configures the per-node retry window.
type RetryConfig struct {
	MaxRetries int           // total attempts = MaxRetries + 1
	BaseDelay  time.Duration // default 1s
	MaxDelay   time.Duration // default 30s
	RetryOn    []ErrorCode   // if set, only these codes retry
	SkipOn     []ErrorCode   // overrides RetryOn: these never retry
}

// ErrorHandlingMode selects behavior once the retry window is exhausted or
// the error is non-retryable.
type ErrorHandlingMode string

const (
	ModeStop     ErrorHandlingMode = "stop"
	ModeContinue ErrorHandlingMode = "continue"
	ModeBranch   ErrorHandlingMode = "branch"
)

// ErrorHandlingConfig is the per-node error policy attached via node Data.
type ErrorHandlingConfig struct {
	Mode  ErrorHandlingMode
	Retry *RetryConfig
}

// Retryable decides whether code may be retried under cfg. VALIDATION is
// never retried regardless of configuration. AUTH is skipped by default.
func Retryable(code ErrorCode, cfg *RetryConfig) bool {
	if code == CodeValidation {
		return false
	}
	if cfg == nil {
		return code != CodeAuth
	}
	for _, c := range cfg.SkipOn {
		if c == code {
			return false
		}
	}
	if len(cfg.RetryOn) > 0 {
		for _, c := range cfg.RetryOn {
			if c == code {
				return true
			}
		}
		return false
	}
	return code != CodeAuth
}

// RetryDelay computes the sleep before the next attempt: the provider's
// Retry-After value takes precedence (capped at maxDelay); otherwise
// exponential backoff baseDelay*2^(attempt-1), capped at maxDelay. No jitter
// is added: rng is not used.
func RetryDelay(attempt int, retryAfterSec float64, baseDelay, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if retryAfterSec > 0 {
		d := time.Duration(retryAfterSec * float64(time.Second))
		if d > maxDelay {
			d = maxDelay
		}
		return d
	}
	exp := baseDelay * (1 << uint(attempt-1))
	if exp > maxDelay || exp <= 0 {
		exp = maxDelay
	}
	return exp
}

// seedRNG builds a deterministic per-run RNG from sha256(runID), so any
// per-run randomness drawn from it repeats when the same run is replayed,
// without needing to persist the RNG state itself. executeWithPolicy passes
// it to RetryDelay, which does not draw from it.
func seedRNG(runID string) *rand.Rand {
	h := sha256.Sum256([]byte(runID))
	seed := int64(binary.BigEndian.Uint64(h[:8])) //nolint:gosec // conversion for deterministic seeding, not security-sensitive
	return rand.New(rand.NewSource(seed))         //nolint:gosec // deterministic replay seed, not security-sensitive
}

// ComputeOrderKey derives a deterministic sort key for a node reached via
// edgeIndex out of parentNodeID: sha256(parentNodeID || big-endian edgeIndex),
// first 8 bytes as a uint64. Two runs of the same workflow always rank a
// given ready-set in the same order, regardless of which goroutine finishes
// first, because the key depends only on graph shape and never on timing.
func ComputeOrderKey(parentNodeID string, edgeIndex int) uint64 {
	h := sha256.New()
	h.Write([]byte(parentNodeID))
	var edgeBytes [4]byte
	binary.BigEndian.PutUint32(edgeBytes[:], uint32(edgeIndex)) //nolint:gosec // edge indices are small and non-negative
	h.Write(edgeBytes[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

func parseRetryAfterHeader(v string) float64 {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return secs
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d.Seconds()
		}
	}
	return 0
}
