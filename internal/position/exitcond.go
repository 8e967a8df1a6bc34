package position

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// "below 105000", "under $1,250.50" — the level follows the direction word.
	directionalRe = regexp.MustCompile(`(?i)\b(?:below|above|under|over)\s+\$?(\d+(?:,\d{3})*(?:\.\d+)?)`)
	priceRe       = regexp.MustCompile(`\$?\d+(?:,\d{3})*(?:\.\d+)?`)
)

// ParseExitLevel pulls the price level out of a plain-language exit
// condition. A number following a direction word wins, so "4-hour candle
// closes below 105000" is 105000, not 4; without a direction word the last
// standalone number is used. Tokens glued to a unit ("4-hour", "15m", "5%")
// are never levels. Returns false when the text carries no usable level;
// such conditions stay advisory.
func ParseExitLevel(text string) (float64, bool) {
	if strings.TrimSpace(text) == "" {
		return 0, false
	}
	if loc := directionalRe.FindStringSubmatchIndex(text); loc != nil && standalone(text, loc[3]) {
		return parseLevel(text[loc[2]:loc[3]])
	}
	var last string
	for _, loc := range priceRe.FindAllStringIndex(text, -1) {
		if standalone(text, loc[1]) {
			last = text[loc[0]:loc[1]]
		}
	}
	if last == "" {
		return 0, false
	}
	return parseLevel(last)
}

// standalone reports whether the number ending at end stands on its own
// rather than being glued to a unit suffix.
func standalone(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	switch c := text[end]; {
	case c == '%' || c == '-':
		return false
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return false
	}
	return true
}

func parseLevel(tok string) (float64, bool) {
	tok = strings.TrimPrefix(tok, "$")
	tok = strings.ReplaceAll(tok, ",", "")
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
