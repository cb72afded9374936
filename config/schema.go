package config

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/TaskforceCobra/instrument-contoller/errors"
)

//go:embed schema.json
var schemaJSON []byte

// ValidateSchema validates the effective configuration against the embedded
// JSON schema. Durations are compared in their marshaled nanosecond form.
func ValidateSchema(cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "ValidateSchema", "marshal config")
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "ValidateSchema", "schema evaluation")
	}

	if !result.Valid() {
		// Build error message from validation errors
		errMsg := "schema validation failed:\n"
		for _, desc := range result.Errors() {
			errMsg += fmt.Sprintf("  - %s: %s\n", desc.Field(), desc.Description())
		}
		return errors.WrapInvalid(
			fmt.Errorf("%s", errMsg),
			"Config", "ValidateSchema", "schema validation")
	}

	return nil
}
