// Package store provides data persistence for the bot core: users, their
// registration sub-state, interaction history, and simple feature toggles.
package store

import (
	"time"

	"github.com/damamartinez/chatcore/internal/domain"
)

// Stats summarizes the user population for the admin diagnostic surface.
type Stats struct {
	TotalUsers      int
	ActiveUsers     int
	ByRole          map[domain.Role]int
	ActiveLast24h   int
	ActiveLastWeek  int
	ActiveLastMonth int
	TotalMessages   int64
	MessagesByRole  map[domain.Role]int64
}

// interactionRecord is one row of user_interactions. Stats computes its
// activity windows with SQL aggregates and does not use this type.
type interactionRecord struct {
	Address   string
	Timestamp time.Time
}
