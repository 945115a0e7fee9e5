package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainSample = "campbellsync/sample/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SampleID computes the content-addressed ID of a history sample.
//
// The ID covers the owning sensor and the sample instant only; the value
// is not part of it. A store keyed on it absorbs a re-appended sample for
// the same record.
func SampleID(sensorRef string, ts time.Time) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"sensor":    sensorRef,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("SampleID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSample, canonical), nil
}

// MustSampleID is like SampleID but panics on error.
func MustSampleID(sensorRef string, ts time.Time) string {
	id, err := SampleID(sensorRef, ts)
	if err != nil {
		panic(err)
	}
	return id
}
