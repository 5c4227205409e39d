package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure JSONB implements both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
var (
	_ sql.Scanner   = (*JSONB)(nil)
	_ driver.Valuer = JSONB(nil)
)

// JSONB is a free-form JSON object column. Used for prediction metrics
// (MAE, RMSE, directional accuracy, horizon prices) whose exact shape
// belongs to the model service, not this backend.
type JSONB map[string]any

// Scan implements the sql.Scanner interface for reading JSONB from the database.
// It handles nil values, []byte, and string representations from different drivers.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, j)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
// Returns nil for a nil map; otherwise marshals to JSON bytes.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(map[string]any(j))
}
