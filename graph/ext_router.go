package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// RouterExtension picks exactly one declared route using either an LLM
// decision or condition expressions, and sends execution down the edges
// tagged with that route's id as sourceHandle.
type RouterExtension struct {
	LLM ChatModel
}

func (r *RouterExtension) Execute(ctx context.Context, node *Node, ec *ExecutionContext, g *Graph) (ExtensionResult, error) {
	var data RouterData
	if err := decodeData(node.Data, &data); err != nil {
		return ExtensionResult{}, err
	}
	if len(data.Routes) == 0 {
		return ExtensionResult{}, fmt.Errorf("router %s declares no routes", node.ID)
	}

	routeID, err := r.selectRoute(ctx, node, ec, data)
	if err != nil {
		fallback := data.FallbackRoute
		if fallback == "" {
			fallback = "first"
		}
		switch fallback {
		case "error":
			return ExtensionResult{}, err
		case "none":
			return ExtensionResult{Output: ec.CurrentInput}, nil
		default: // first
			routeID = data.Routes[0].ID
		}
	}

	if ec.Callbacks != nil {
		ec.Callbacks.OnRouteSelected(node.ID, routeID)
	}

	var next []string
	for _, c := range g.OutgoingEdges(node.ID, routeID) {
		next = append(next, c.NodeID)
	}

	return ExtensionResult{
		Output:    ec.CurrentInput,
		NextNodes: next,
		Metadata:  map[string]any{"selectedRoute": routeID},
	}, nil
}

// selectRoute evaluates each route's condition in declared order when any
// route declares a non-custom condition and returns the first match; when no
// route declares one, or none matches, it asks the LLM to name the route id
// directly.
func (r *RouterExtension) selectRoute(ctx context.Context, node *Node, ec *ExecutionContext, data RouterData) (string, error) {
	hasConditions := false
	for _, route := range data.Routes {
		if route.Condition != "" && route.Condition != "custom" {
			hasConditions = true
			break
		}
	}
	if hasConditions {
		for _, route := range data.Routes {
			if matchCondition(route, ec.CurrentInput) {
				return route.ID, nil
			}
		}
	}

	model := data.Model
	if model == "" {
		model = ec.DefaultModel
	}
	if r.LLM == nil {
		return "", fmt.Errorf("router %s has no routable condition and no LLM configured", node.ID)
	}

	var labels []string
	for _, route := range data.Routes {
		label := route.Label
		if label == "" {
			label = route.ID
		}
		labels = append(labels, route.ID+": "+label)
	}
	prompt := data.SystemPrompt
	if prompt == "" {
		prompt = "Choose exactly one route id from the list below that best matches the input. Reply with only the route id."
	}
	messages := []ChatMessage{
		{Role: RoleSystem, Content: prompt + "\nRoutes:\n" + strings.Join(labels, "\n")},
		{Role: RoleUser, Content: ec.CurrentInput},
	}
	resp, err := r.LLM.Chat(ctx, model, messages, ChatOptions{})
	if err != nil {
		return "", err
	}
	picked := strings.TrimSpace(resp.Content)
	for _, route := range data.Routes {
		if route.ID == picked {
			return route.ID, nil
		}
	}
	return "", fmt.Errorf("router %s: model picked unknown route %q", node.ID, picked)
}

func matchCondition(route RouteSpec, input string) bool {
	switch route.Condition {
	case "contains":
		return strings.Contains(strings.ToLower(input), strings.ToLower(route.Value))
	case "equals":
		return input == route.Value
	case "regex":
		re, err := regexp.Compile(route.Value)
		if err != nil {
			return false
		}
		return re.MatchString(input)
	default:
		return false
	}
}

func (r *RouterExtension) Validate(node *Node, _ *Graph) error {
	var data RouterData
	if err := decodeData(node.Data, &data); err != nil {
		return &StructuredError{Message: err.Error(), Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	if len(data.Routes) == 0 {
		return &StructuredError{Message: "router node requires at least one route", Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	return nil
}

var _ Extension = (*RouterExtension)(nil)
