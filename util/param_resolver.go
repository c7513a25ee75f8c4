package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile("{(.*?)}")

// ResolveParams resolves `{$.json.path}` tokens inside a parameter map
// against instance data, so a step's configuration can reference the output
// of earlier steps, e.g. {$.steps.pick_plan.output.plan}.
func ResolveParams(instanceData map[string]any, params map[string]any) map[string]any {
	data := make(map[string]any)
	resolveParams(instanceData, params, data)
	return data
}

// ResolveString resolves `{$.json.path}` tokens inside a single string. A
// string that is exactly one token resolves to the looked-up value itself,
// preserving its type; otherwise tokens are substituted textually.
func ResolveString(instanceData map[string]any, s string) any {
	tokens := tokenRe.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	if len(tokens) == 1 && tokens[0] == s {
		tmatch := strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
		if strings.HasPrefix(tmatch, "$") {
			value, err := jsonpath.JsonPathLookup(instanceData, tmatch)
			if err == nil {
				return value
			}
		}
		return s
	}
	newStr := s
	for _, token := range tokens {
		tmatch := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(tmatch, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(instanceData, tmatch)
		if err != nil {
			continue
		}
		newStr = strings.ReplaceAll(newStr, token, fmt.Sprintf("%v", value))
	}
	return newStr
}

func resolveParams(instanceData map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch v := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(instanceData, v, out)
		case string:
			output[k] = ResolveString(instanceData, v)
		case []any:
			output[k] = resolveList(instanceData, v)
		default:
			output[k] = v
		}
	}
}

func resolveList(instanceData map[string]any, list []any) []any {
	var output []any
	for _, v := range list {
		switch v := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output = append(output, out)
			resolveParams(instanceData, v, out)
		case string:
			output = append(output, ResolveString(instanceData, v))
		case []any:
			output = append(output, resolveList(instanceData, v))
		default:
			output = append(output, v)
		}
	}
	return output
}
