package oracle

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a disciplined leveraged crypto trading assistant running inside a simulator.
For the given symbol, respond with a single JSON object and nothing else:
{
  "action": "BUY" | "SELL" | "HOLD",
  "confidence": <float 0.0-1.0>,
  "leverage": <float >= 1>,
  "reasoning": "<one or two sentences>",
  "exit_condition": "<optional plain-language invalidation, e.g. 'close if price drops below 42000'>",
  "stop_loss": <optional absolute price>,
  "take_profit": <optional absolute price>
}
BUY opens a long, SELL opens a short or closes an existing long, HOLD does nothing.
If a position for the symbol is already open, BUY/SELL on the opposite side means close it.
Never invent fields and never wrap the JSON in markdown fences.`

func buildUserPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session: %.0f minutes elapsed, invocation #%d.\n\n", req.ElapsedMins, req.Invocation)

	fmt.Fprintf(&b, "Market %s: price $%.4f, 24h range $%.4f-$%.4f, 24h change %+.2f%%, 24h volume %.0f.\n\n",
		req.Symbol, req.Price, req.Low24h, req.High24h, req.Change24hPct, req.Volume24h)

	fmt.Fprintf(&b, "Account: cash $%.2f, equity $%.2f, ROI %+.2f%%.\n", req.Cash, req.Equity, req.ROIPct)

	if len(req.OpenPositions) == 0 {
		b.WriteString("Open positions: none.\n")
	} else {
		b.WriteString("Open positions:\n")
		for _, p := range req.OpenPositions {
			fmt.Fprintf(&b, "  %s %s entry $%.4f now $%.4f lev %.1fx conf %.2f unrealized $%+.2f held %.0f min\n",
				p.Symbol, p.Side, p.EntryPrice, p.CurrentPrice, p.Leverage, p.Confidence, p.UnrealizedPnL, p.HoldingMins)
		}
	}

	fmt.Fprintf(&b, "\nDecide for %s now.", req.Symbol)
	return b.String()
}
