package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// decodeData round-trips a Node's Data map into a typed struct via JSON.
// Node.Data arrives as map[string]any from decoded workflow JSON; no
// schema-mapping library appears anywhere in the reference corpus, so a
// marshal/unmarshal round trip through encoding/json is the grounded choice
// here rather than reaching for an out-of-pack dependency.
func decodeData(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode node data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode node data: %w", err)
	}
	return nil
}

// AgentData configures an Agent node.
type AgentData struct {
	Label               string               `json:"label,omitempty"`
	Model               string               `json:"model,omitempty"`
	SystemPrompt        string               `json:"systemPrompt,omitempty"`
	Temperature         float64              `json:"temperature,omitempty"`
	MaxTokens           int                  `json:"maxTokens,omitempty"`
	Tools               []string             `json:"tools,omitempty"`
	MaxToolIterations   int                  `json:"maxToolIterations,omitempty"`
	OnMaxToolIterations string               `json:"onMaxToolIterations,omitempty"` // warning|error|hitl
	ErrorHandling       *ErrorHandlingConfig `json:"errorHandling,omitempty"`
	Retry               *RetryConfig         `json:"retry,omitempty"`
	HITL                *HITLConfig          `json:"hitl,omitempty"`
	Compaction          *CompactionConfig    `json:"compaction,omitempty"`
}

// RouteSpec is one declared branch of a Router node.
type RouteSpec struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	Condition string `json:"condition,omitempty"` // contains|equals|regex|custom
	Value     string `json:"value,omitempty"`
}

// RouterData configures a Router node.
type RouterData struct {
	Label          string               `json:"label,omitempty"`
	Model          string               `json:"model,omitempty"`
	SystemPrompt   string               `json:"systemPrompt,omitempty"`
	Routes         []RouteSpec          `json:"routes"`
	FallbackRoute  string               `json:"fallbackRoute,omitempty"` // first|error|none
	ErrorHandling  *ErrorHandlingConfig `json:"errorHandling,omitempty"`
	Retry          *RetryConfig         `json:"retry,omitempty"`
	HITL           *HITLConfig          `json:"hitl,omitempty"`
}

// BranchSpec is one declared branch of a Parallel node.
type BranchSpec struct {
	ID     string   `json:"id"`
	Label  string   `json:"label,omitempty"`
	Model  string   `json:"model,omitempty"`
	Prompt string   `json:"prompt,omitempty"`
	Tools  []string `json:"tools,omitempty"`
}

// ParallelData configures a Parallel node.
type ParallelData struct {
	Label         string               `json:"label,omitempty"`
	Branches      []BranchSpec         `json:"branches"`
	BranchTimeout time.Duration        `json:"branchTimeout,omitempty"` // nanoseconds; default 5m
	ErrorHandling *ErrorHandlingConfig `json:"errorHandling,omitempty"`
}

// WhileLoopData configures a WhileLoop node.
type WhileLoopData struct {
	Label                   string `json:"label,omitempty"`
	Mode                    string `json:"mode,omitempty"` // condition|fixed
	BodyStartNodeID         string `json:"bodyStartNodeId"`
	MaxIterations           int    `json:"maxIterations,omitempty"`
	ConditionPrompt         string `json:"conditionPrompt,omitempty"`
	ConditionModel          string `json:"conditionModel,omitempty"`
	CustomEvaluator         string `json:"customEvaluator,omitempty"`
	LoopPrompt              string `json:"loopPrompt,omitempty"`
	IncludeIterationContext bool   `json:"includeIterationContext,omitempty"`
	OnMaxIterations         string `json:"onMaxIterations,omitempty"` // error|warning|continue
	OutputMode              string `json:"outputMode,omitempty"`      // last|accumulate
}

// SubflowData configures a Subflow node.
type SubflowData struct {
	Label         string            `json:"label,omitempty"`
	SubflowID     string            `json:"subflowId"`
	InputMappings map[string]string `json:"inputMappings,omitempty"`
}

// OutputData configures an Output node.
type OutputData struct {
	Label    string `json:"label,omitempty"`
	Template string `json:"template"`
	Format   string `json:"format,omitempty"` // text|json|markdown
}
