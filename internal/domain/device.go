package domain

import (
	"fmt"
	"time"
)

// OverlapPolicy decides what happens when a schedule fires while a cycle
// for the same device is still running.
type OverlapPolicy string

const (
	// OverlapSkip drops the fire and reports a skipped outcome.
	OverlapSkip OverlapPolicy = "skip"

	// OverlapQueue remembers at most one fire and runs it when the
	// current cycle ends. Further fires are dropped as with OverlapSkip.
	OverlapQueue OverlapPolicy = "queue"
)

// ParseOverlap parses an overlap policy. The empty string means OverlapSkip.
func ParseOverlap(s string) (OverlapPolicy, error) {
	switch OverlapPolicy(s) {
	case "", OverlapSkip:
		return OverlapSkip, nil
	case OverlapQueue:
		return OverlapQueue, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q (want skip or queue)", s)
	}
}

// DeviceConfig describes one polled datalogger. Immutable after load.
type DeviceConfig struct {
	// Name is unique within a fleet and appears in every diagnostic.
	Name string

	// Host is the datalogger base URL.
	Host string

	// Table is the datalogger table queried.
	Table string

	// Schedule is a cron expression.
	Schedule string

	// TZOffset is added to every parsed record time. Zero means none.
	TZOffset time.Duration

	// DeviceRef is the store reference of the device. Empty means the
	// device is only fetched and parsed, never reconciled.
	DeviceRef string

	Overlap OverlapPolicy
}
