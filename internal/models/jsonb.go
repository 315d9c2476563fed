package models

import (
	"encoding/json"
	"fmt"
)

// scanJSON decodes a JSONB column value into dest. NULL and empty values leave dest untouched.
func scanJSON(value interface{}, dest interface{}, typeName string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, typeName)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", typeName, err)
	}
	return nil
}
