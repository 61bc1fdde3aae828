package shared

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxRequestBodySize bounds request bodies to prevent memory exhaustion.
const maxRequestBodySize = 1 << 20 // 1 MB

// DecodeJSON decodes the request body into the provided destination,
// rejecting unknown fields and oversized bodies.
func DecodeJSON(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}
