// Package ingest consumes telemetry messages from the broker and feeds
// them into the telemetry service.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
)

// decodeReading parses one wire payload. Decoding is tolerant: absent
// fields keep their zero values, an absent status becomes "unknown",
// and only a payload that is not a JSON object at all is rejected. Bad
// individual messages must never take the consumer down.
func decodeReading(payload []byte) (domain.RawReading, error) {
	var raw domain.RawReading
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.RawReading{}, fmt.Errorf("decoding reading: %w", err)
	}

	if raw.Status == "" {
		raw.Status = domain.StatusUnknown
	}
	return raw, nil
}
