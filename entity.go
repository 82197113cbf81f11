package conveyor

import "time"

// Entity carries the timestamps shared by every persisted record.
// Embed it in domain structs; stores maintain UpdatedAt on writes.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to now (UTC).
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch bumps UpdatedAt to now (UTC).
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
