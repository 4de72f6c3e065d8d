package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte failed")
		}
		b = []byte(s)
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

// StringArray is a jsonb-backed list of strings, used for the seat labels
// held by a Booking.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *StringArray) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte failed")
		}
		b = []byte(s)
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}

type CreateBookingRequestBody struct {
	ShowID uint     `json:"show_id" binding:"required"`
	Seats  []string `json:"seats" binding:"required,min=1,max=10,dive,required"`
}

type AddShowRequestBody struct {
	MovieID string              `json:"movie_id" binding:"required"`
	Movie   *MovieDetails       `json:"movie,omitempty"`
	Shows   []ShowInputDateTime `json:"shows" binding:"required,min=1,dive"`
	Price   float64             `json:"price" binding:"required,gt=0"`
}

type MovieDetails struct {
	Title       string   `json:"title" binding:"required"`
	Overview    string   `json:"overview,omitempty"`
	PosterPath  string   `json:"poster_path,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"`
	Runtime     uint     `json:"runtime,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	VoteAverage float64  `json:"vote_average,omitempty"`
}

type ShowInputDateTime struct {
	DateTime string `json:"date_time" binding:"required,showdate" time_format:"2006-01-02 15:04:05 -07:00"`
}

type UpdateFavoriteRequestBody struct {
	MovieID string `json:"movie_id" binding:"required"`
}

type IdentityWebhookBody struct {
	Type string `json:"type" binding:"required"`
	Data JSONB  `json:"data" binding:"required"`
}
