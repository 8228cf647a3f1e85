package app

import (
	"encoding/json"
	"fmt"
)

// Operation statuses stored in the operation history.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// operationStatus returns the history status for the outcome of an operation.
func operationStatus(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// encodeParameters renders operation parameters for the history. Keys are
// sorted, so equal parameters always encode the same way.
func encodeParameters(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding operation parameters: %w", err)
	}
	return string(data), nil
}
