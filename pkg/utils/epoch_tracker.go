package utils

import (
	"encoding/json"
	"os"
	"time"
)

// EpochEvent is one line of the epoch log
type EpochEvent struct {
	RunID       string  `json:"run_id"`
	Epoch       int     `json:"epoch"`
	Phase       string  `json:"phase"` // "train" or "test"
	Loss        float64 `json:"loss"`
	ClusterLoss float64 `json:"cluster_loss"`
	HeadLoss    float64 `json:"head_loss"`
	Accuracy    float64 `json:"accuracy,omitempty"`
	MAE         float64 `json:"mae,omitempty"`
	AUC         float64 `json:"auc,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

// EpochTracker appends epoch events as JSON lines. A nil tracker is a no-op.
type EpochTracker struct {
	file    *os.File
	encoder *json.Encoder
	runID   string
}

// NewEpochTracker creates the log file, returning nil if it cannot
func NewEpochTracker(filename, runID string) *EpochTracker {
	file, err := os.Create(filename)
	if err != nil {
		return nil
	}

	return &EpochTracker{
		file:    file,
		encoder: json.NewEncoder(file),
		runID:   runID,
	}
}

func (et *EpochTracker) LogEpoch(event EpochEvent) {
	if et == nil {
		return
	}

	event.RunID = et.runID
	event.Timestamp = time.Now().Unix()
	et.encoder.Encode(event)
}

func (et *EpochTracker) Close() {
	if et != nil && et.file != nil {
		et.file.Close()
	}
}
