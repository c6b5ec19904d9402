// Package progress defines the event stream emitted by the ingestion
// pipeline and the hub that fans events out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the pipeline milestone an Event records.
type Stage string

// Supported progress stages.
const (
	StageBatchStart   Stage = "BATCH_START"
	StageBatchDone    Stage = "BATCH_DONE"
	StageDocClaimed   Stage = "DOC_CLAIMED"
	StageDownloadDone Stage = "DOWNLOAD_DONE"
	StageExtractDone  Stage = "EXTRACT_DONE"
	StageEntitiesDone Stage = "ENTITIES_DONE"
	StageEmbedDone    Stage = "EMBED_DONE"
	StageDocCompleted Stage = "DOC_COMPLETED"
	StageDocFailed    Stage = "DOC_FAILED"
)

// Event captures a single pipeline milestone for one document or batch.
type Event struct {
	// PackageID identifies the document; empty for batch-level stages.
	PackageID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Method carries the extraction method for EXTRACT_DONE events.
	Method string
	// Class carries the failure class for DOC_FAILED events.
	Class string
	// Bytes carries the body size for DOWNLOAD_DONE events.
	Bytes int64
	// Count carries stage-specific counts: entities found, chunks
	// embedded, or documents in a batch.
	Count int
	// Dur captures stage latency where the emitter measured one.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone:
	case StageDocClaimed, StageDownloadDone, StageEntitiesDone, StageEmbedDone, StageDocCompleted:
		if e.PackageID == "" {
			return errors.New("package id is required")
		}
	case StageExtractDone:
		if e.PackageID == "" {
			return errors.New("package id is required")
		}
		if e.Method == "" {
			return errors.New("extract done requires method")
		}
	case StageDocFailed:
		if e.PackageID == "" {
			return errors.New("package id is required")
		}
		if e.Class == "" {
			return errors.New("doc failed requires failure class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
