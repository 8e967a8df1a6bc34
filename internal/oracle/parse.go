package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type rawDecision struct {
	Action        string   `json:"action"`
	Confidence    *float64 `json:"confidence"`
	Leverage      *float64 `json:"leverage"`
	Reasoning     string   `json:"reasoning"`
	ExitCondition string   `json:"exit_condition"`
	StopLoss      float64  `json:"stop_loss"`
	TakeProfit    float64  `json:"take_profit"`
}

// parseDecision validates the model's reply for one symbol. Anything that
// doesn't carry a usable action/confidence/leverage triple is a malformed
// response, not a hold.
func parseDecision(symbol, content string, now time.Time) (Decision, error) {
	content = stripFences(content)

	var raw rawDecision
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		// Keep the raw payload in the message for the audit log.
		return Decision{}, malformedError(fmt.Sprintf("decision for %s is not valid JSON: %q", symbol, truncate(content, 200)), err)
	}

	action := Action(strings.ToUpper(strings.TrimSpace(raw.Action)))
	switch action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return Decision{}, malformedError(fmt.Sprintf("decision for %s has unknown action %q", symbol, raw.Action), nil)
	}

	if raw.Confidence == nil {
		return Decision{}, malformedError(fmt.Sprintf("decision for %s is missing confidence", symbol), nil)
	}
	if action != ActionHold && raw.Leverage == nil {
		return Decision{}, malformedError(fmt.Sprintf("decision for %s is missing leverage", symbol), nil)
	}

	d := Decision{
		Symbol:        symbol,
		Action:        action,
		Confidence:    *raw.Confidence,
		Reasoning:     strings.TrimSpace(raw.Reasoning),
		ExitCondition: strings.TrimSpace(raw.ExitCondition),
		StopLoss:      raw.StopLoss,
		TakeProfit:    raw.TakeProfit,
		Timestamp:     now,
	}
	if raw.Leverage != nil {
		d.Leverage = *raw.Leverage
	}
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// stripFences tolerates models that wrap the JSON in ```json fences despite
// instructions; everything else is passed through untouched.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
