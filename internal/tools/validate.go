package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParallelArg is the reserved internal argument that promotes a tool
// batch to parallel execution. It is stripped before schema validation
// and before the tool sees its arguments.
const ParallelArg = "_parallel"

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateArgs checks the LLM-produced argument object against the
// tool's declared JSON schema. A validation failure means the tool is
// never invoked; the caller reports the error as the tool result.
func ValidateArgs(desc *Descriptor, args json.RawMessage) error {
	if len(desc.Parameters) == 0 {
		return nil
	}
	compiled, err := compileSchema(desc.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: bad parameter schema: %w", desc.Name, err)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("tool %s: arguments are not valid JSON: %w", desc.Name, err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		return fmt.Errorf("tool %s: arguments must be a JSON object", desc.Name)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %w", desc.Name, err)
	}
	return nil
}

// StripInternalArgs removes engine-reserved keys from an argument
// object and reports whether the call requested parallel execution.
// Malformed argument payloads are returned unchanged; schema
// validation will reject them with a better message.
func StripInternalArgs(args json.RawMessage) (json.RawMessage, bool) {
	if len(args) == 0 {
		return args, false
	}
	var decoded map[string]any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return args, false
	}
	raw, present := decoded[ParallelArg]
	if !present {
		return args, false
	}
	parallel, _ := raw.(bool)
	delete(decoded, ParallelArg)
	cleaned, err := json.Marshal(decoded)
	if err != nil {
		return args, parallel
	}
	return cleaned, parallel
}
