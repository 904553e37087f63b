package interceptor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/heyglassy/flyspace/pkg/flyspace"
)

// actInstruction returns the human-readable instruction of an act argument.
func actInstruction(arg any) (string, error) {
	var s string
	switch v := arg.(type) {
	case string:
		s = v
	case flyspace.ActOptions:
		s = v.Action
	case *flyspace.ActOptions:
		if v != nil {
			s = v.Action
		}
	case map[string]any:
		s, _ = v["action"].(string)
	default:
		return "", fmt.Errorf("%w: act expects a string or an options value with an action, got %T", flyspace.ErrInvalidArgument, arg)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: act requires a non-empty action", flyspace.ErrInvalidArgument)
	}
	return s, nil
}

// instruction returns the human-readable instruction of an extract or observe
// argument.
func instruction(capability string, arg any) (string, error) {
	var s string
	switch v := arg.(type) {
	case string:
		s = v
	case flyspace.ExtractOptions:
		s = v.Instruction
	case *flyspace.ExtractOptions:
		if v != nil {
			s = v.Instruction
		}
	case flyspace.ObserveOptions:
		s = v.Instruction
	case *flyspace.ObserveOptions:
		if v != nil {
			s = v.Instruction
		}
	case map[string]any:
		s, _ = v["instruction"].(string)
	default:
		return "", fmt.Errorf("%w: %s expects a string or an options value with an instruction, got %T", flyspace.ErrInvalidArgument, capability, arg)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s requires a non-empty instruction", flyspace.ErrInvalidArgument, capability)
	}
	return s, nil
}

// withInstruction returns a copy of arg whose instruction is replaced by
// prompt. A bare string argument becomes the prompt itself. The caller's
// value is never modified.
func withInstruction(arg any, prompt string) any {
	switch v := arg.(type) {
	case flyspace.ExtractOptions:
		v.Instruction = prompt
		return v
	case *flyspace.ExtractOptions:
		c := *v
		c.Instruction = prompt
		return &c
	case flyspace.ObserveOptions:
		v.Instruction = prompt
		return v
	case *flyspace.ObserveOptions:
		c := *v
		c.Instruction = prompt
		return &c
	case map[string]any:
		c := make(map[string]any, len(v))
		for k, val := range v {
			c[k] = val
		}
		c["instruction"] = prompt
		return c
	default:
		return prompt
	}
}

// serialize renders a capability result the way evals store it.
func serialize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
