package flow

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/ispkit/stepflow/model"
)

// ExecuteScript runs a script step's expression over the instance data. The
// data is bound to `$` inside the script; whatever the script leaves in `$`
// becomes the step output.
func ExecuteScript(cfg *model.ScriptConfig, data map[string]any) (map[string]any, error) {
	if len(cfg.Expression) == 0 {
		return nil, fmt.Errorf("script expression can not be empty")
	}
	bound, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	expression := fmt.Sprintf("var $ = %s;\n%s", bound, cfg.Expression)
	vm := goja.New()
	if _, err := vm.RunString(expression); err != nil {
		return nil, fmt.Errorf("error executing script %w", err)
	}
	val, err := vm.RunString("$")
	if err != nil {
		return nil, fmt.Errorf("error executing script %w", err)
	}
	res, err := json.Marshal(val.Export())
	if err != nil {
		return nil, err
	}
	var output map[string]any
	json.Unmarshal(res, &output)
	return output, nil
}
