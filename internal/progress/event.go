package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageModStart       Stage = "MOD_START"
	StageModDone        Stage = "MOD_DONE"
	StageModSkipped     Stage = "MOD_SKIPPED"
	StageModError       Stage = "MOD_ERROR"
	StageItemDone       Stage = "ITEM_DONE"
	StageItemDropped    Stage = "ITEM_DROPPED"
	StageItemError      Stage = "ITEM_ERROR"
	StageImageResolved  Stage = "IMAGE_RESOLVED"
	StageImageError     Stage = "IMAGE_ERROR"
	StageImageDownload  Stage = "IMAGE_DOWNLOADED"
	StageDownloadFailed Stage = "IMAGE_DOWNLOAD_FAILED"
)

// Event captures a single component of crawler progress.
type Event struct {
	// RunID identifies one crawl invocation using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Mod is the mod name; required for every non-run stage.
	Mod string
	// Item is the wiki page title for item and image stages.
	Item string
	// URL is the resolved image URL for image stages.
	URL string
	// Count carries item counts on MOD_DONE and image counts on ITEM_DONE.
	Count int64
	// Dur captures elapsed time for mod and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. a failure reason).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageModStart, StageModDone, StageModSkipped, StageModError:
		if e.Mod == "" {
			return fmt.Errorf("%s requires mod", e.Stage)
		}
	case StageItemDone, StageItemDropped, StageItemError:
		if e.Mod == "" || e.Item == "" {
			return fmt.Errorf("%s requires mod and item", e.Stage)
		}
	case StageImageResolved, StageImageError, StageImageDownload, StageDownloadFailed:
		if e.Mod == "" || e.Item == "" {
			return fmt.Errorf("%s requires mod and item", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual UUID into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
