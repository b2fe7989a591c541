package envelope

import (
	"encoding/json"
	"strings"
)

var sensitiveCardFields = map[string]bool{
	"card_number": true,
	"pan":         true,
	"number":      true,
}

var droppedCardFields = map[string]bool{
	"cvv":  true,
	"cvc":  true,
	"cvv2": true,
}

func LastFour(pan string) string {
	digits := onlyDigits(pan)
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}

// MaskPAN keeps the last four digits only.
func MaskPAN(pan string) string {
	digits := onlyDigits(pan)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// RedactJSON returns a log-safe rendering of a payload: card numbers masked,
// verification codes removed. Non-JSON input is replaced entirely.
func RedactJSON(payload []byte) string {
	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "<non-json payload redacted>"
	}
	encoded, err := json.Marshal(redactValue(decoded))
	if err != nil {
		return "<payload redacted>"
	}
	return string(encoded)
}

func redactValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			key := strings.ToLower(k)
			if droppedCardFields[key] {
				continue
			}
			if s, ok := v.(string); ok && sensitiveCardFields[key] {
				out[k] = MaskPAN(s)
				continue
			}
			out[k] = redactValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, v := range typed {
			out[i] = redactValue(v)
		}
		return out
	default:
		return value
	}
}

func onlyDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
