package models

import "quickshow/src/types"

// Booking is created together with the seat hold on its Show. Everything but
// IsPaid, PaymentLink and CheckoutSessionID is immutable after creation; an
// unpaid booking past its hold deadline is deleted by the payment-check
// workflow and its seats freed.
type Booking struct {
	ID                uint              `gorm:"primarykey" json:"id"`
	UserID            string            `json:"user_id,omitempty"`
	ShowID            uint              `json:"show_id,omitempty"`
	Amount            float64           `json:"amount,omitempty"`
	BookedSeats       types.StringArray `gorm:"type:jsonb" json:"booked_seats,omitempty"`
	IsPaid            bool              `gorm:"default:false" json:"is_paid"`
	PaymentLink       string            `json:"payment_link,omitempty"`
	CheckoutSessionID *string           `json:"-"`

	Show *Show `gorm:"foreignKey:ShowID" json:"show,omitempty"`
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`

	types.Timestamps
}
