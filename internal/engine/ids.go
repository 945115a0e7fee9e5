package engine

import "github.com/google/uuid"

// IDGenerator produces cycle IDs. Tests substitute testutil.SequentialIDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator is the production IDGenerator. UUIDv7 leads with a
// millisecond timestamp, so the cycle IDs of one device sort by start
// time in logs and on MQTT status topics.
type UUIDv7Generator struct{}

// Generate implements IDGenerator.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
