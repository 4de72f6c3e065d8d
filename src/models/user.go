package models

import "quickshow/src/types"

// User mirrors the identity provider's user records. Rows are created,
// updated and deleted only by the identity lifecycle workflow functions; the
// provider remains the source of truth.
type User struct {
	ID    string `gorm:"primarykey" json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`

	Bookings []Booking `gorm:"foreignKey:UserID" json:"bookings,omitempty"`

	types.Timestamps
}
