package callback

import "encoding/json"

// HookResult is the canonical form of a hook response. The zero value is the
// continue-shaped result used when a hook times out.
type HookResult struct {
	Continue           *bool           `json:"continue,omitempty"`
	SuppressOutput     bool            `json:"suppressOutput,omitempty"`
	StopReason         string          `json:"stopReason,omitempty"`
	Decision           string          `json:"decision,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	SystemMessage      string          `json:"systemMessage,omitempty"`
	HookSpecificOutput json.RawMessage `json:"hookSpecificOutput,omitempty"`
}

// Accepted wire spellings per logical hook field. Older peers emit
// snake_case, newer ones camelCase; the first spelling present wins.
var (
	aliasContinue       = []string{"continue"}
	aliasSuppressOutput = []string{"suppressOutput", "suppress_output"}
	aliasStopReason     = []string{"stopReason", "stop_reason"}
	aliasDecision       = []string{"decision"}
	aliasReason         = []string{"reason"}
	aliasSystemMessage  = []string{"systemMessage", "system_message"}
	aliasHookOutput     = []string{"hookSpecificOutput", "hook_specific_output"}
)

func mapHookResult(fields map[string]any) HookResult {
	var res HookResult
	if v, ok := pickBool(fields, aliasContinue); ok {
		res.Continue = &v
	}
	if v, ok := pickBool(fields, aliasSuppressOutput); ok {
		res.SuppressOutput = v
	}
	res.StopReason = pickString(fields, aliasStopReason)
	res.Decision = pickString(fields, aliasDecision)
	res.Reason = pickString(fields, aliasReason)
	res.SystemMessage = pickString(fields, aliasSystemMessage)
	if v, ok := pickValue(fields, aliasHookOutput); ok {
		if raw, err := json.Marshal(v); err == nil {
			res.HookSpecificOutput = raw
		}
	}
	return res
}

func pickValue(fields map[string]any, names []string) (any, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func pickString(fields map[string]any, names []string) string {
	if v, ok := pickValue(fields, names); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func pickBool(fields map[string]any, names []string) (bool, bool) {
	if v, ok := pickValue(fields, names); ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}
