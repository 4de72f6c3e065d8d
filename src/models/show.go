package models

import (
	"time"

	"quickshow/src/types"
)

// Show is a single screening of a movie. OccupiedSeats maps a seat label to
// the id of the user holding it; a label is present in the map for at most
// one holder at any time. Holds are taken and released only through the
// conditional updates in utils (see HoldSeats/ReleaseSeats).
type Show struct {
	ID                uint        `gorm:"primarykey" json:"id"`
	MovieID           string      `json:"movie_id,omitempty"`
	ShowDateTime      time.Time   `json:"show_date_time,omitempty"`
	ShowPrice         float64     `json:"show_price,omitempty"`
	OccupiedSeats     types.JSONB `gorm:"type:jsonb;default:'{}'" json:"occupied_seats,omitempty"`
	NotificationsSent bool        `gorm:"default:false" json:"-"`

	Movie *Movie `gorm:"foreignKey:MovieID" json:"movie,omitempty"`

	types.Timestamps
}
