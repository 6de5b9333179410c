package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	cacheMu sync.Mutex
	cache   = make(map[string]*jsonschema.Schema)
)

// Compile compiles a schema document, reusing an earlier compilation of
// the same text. Steps keep their result schema constant for a whole run.
func Compile(schemaJSON string) (*jsonschema.Schema, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if sch, ok := cache[schemaJSON]; ok {
		return sch, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema: %w", err)
	}
	cache[schemaJSON] = sch
	return sch, nil
}

// ValidateJSONWithSchema validates a JSON data string against a JSON schema string.
// An empty schema accepts anything.
func ValidateJSONWithSchema(schemaJSON string, dataJSON string) error {
	if schemaJSON == "" {
		return nil
	}
	sch, err := Compile(schemaJSON)
	if err != nil {
		return err
	}

	var data interface{}
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON data: %w. Data: %s", err, dataJSON)
	}
	return validate(sch, data)
}

// ValidateValue validates an already decoded Go value by round-tripping it
// through encoding/json so struct tags apply.
func ValidateValue(schemaJSON string, v interface{}) error {
	if schemaJSON == "" {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return ValidateJSONWithSchema(schemaJSON, string(raw))
}

func validate(sch *jsonschema.Schema, data interface{}) error {
	if err := sch.Validate(data); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("JSON data failed validation against schema: %v", validationErr)
		}
		return fmt.Errorf("JSON data failed validation (unexpected error type): %w", err)
	}
	return nil
}
