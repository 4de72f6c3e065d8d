package models

import "quickshow/src/types"

type Movie struct {
	ID          string            `gorm:"primarykey" json:"id"`
	Title       string            `json:"title,omitempty"`
	Overview    string            `json:"overview,omitempty"`
	PosterPath  string            `json:"poster_path,omitempty"`
	ReleaseDate string            `json:"release_date,omitempty"`
	Runtime     uint              `json:"runtime,omitempty"`
	Genres      types.StringArray `gorm:"type:jsonb" json:"genres,omitempty"`
	VoteAverage float64           `json:"vote_average,omitempty"`

	Shows []Show `gorm:"foreignKey:MovieID" json:"shows,omitempty"`

	types.Timestamps
}
