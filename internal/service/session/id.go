package session

import "github.com/google/uuid"

const idPrefix = "session_"

// IDGenerator issues session identifiers. Identifiers are random UUIDs, so
// they stay unique across processes and restarts, not just within one
// controller.
type IDGenerator struct {
	newUUID func() string
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{newUUID: uuid.NewString}
}

func (g *IDGenerator) Next() string {
	return idPrefix + g.newUUID()
}
