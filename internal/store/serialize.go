package store

import (
	"encoding/json"
	"time"
)

type executionWire struct {
	ConstellationID   string          `json:"constellation_id"`
	ConstellationName string          `json:"constellation_name"`
	FinalState        string          `json:"final_state"`
	StartedAt         string          `json:"started_at"`
	EndedAt           string          `json:"ended_at"`
	Statistics        json.RawMessage `json:"statistics"`
}

func encodeExecution(rec ExecutionRecord) ([]byte, error) {
	stats, err := json.Marshal(rec.Statistics)
	if err != nil {
		return nil, err
	}
	w := executionWire{
		ConstellationID:   rec.ConstellationID,
		ConstellationName: rec.ConstellationName,
		FinalState:        rec.FinalState,
		StartedAt:         rec.StartedAt.Format(time.RFC3339Nano),
		EndedAt:           rec.EndedAt.Format(time.RFC3339Nano),
		Statistics:        stats,
	}
	return json.Marshal(w)
}

func decodeExecution(data []byte, out *ExecutionRecord) error {
	var w executionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out.ConstellationID = w.ConstellationID
	out.ConstellationName = w.ConstellationName
	out.FinalState = w.FinalState
	if w.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.StartedAt); err == nil {
			out.StartedAt = t
		}
	}
	if w.EndedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.EndedAt); err == nil {
			out.EndedAt = t
		}
	}
	if len(w.Statistics) > 0 {
		_ = json.Unmarshal(w.Statistics, &out.Statistics)
	}
	return nil
}
