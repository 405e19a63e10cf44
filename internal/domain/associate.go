package domain

import (
	"time"

	"github.com/google/uuid"
)

// Associate is a teammate that automations deliver work packages to.
type Associate struct {
	ID uuid.UUID

	Name     string
	Email    string // unique
	Timezone string // IANA timezone
	Role     string // role or pod, optional

	CreatedAt time.Time
}
