package utils

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"quickshow/src/db"
	"quickshow/src/lib"
	"quickshow/src/models"
	"quickshow/src/types"

	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

var (
	ErrSeatsUnavailable = errors.New("selected seats are no longer available")
	ErrShowStarted      = errors.New("show has already started")
)

var seatLabelRe = regexp.MustCompile(`^[A-Z]{1,2}[0-9]{1,3}$`)

// ValidateSeatLabels rejects anything that is not a plain row-letter plus
// seat-number label. Labels are embedded in a text[] literal by HoldSeats,
// so the format check is not optional.
func ValidateSeatLabels(seats []string) error {
	for _, s := range seats {
		if !seatLabelRe.MatchString(s) {
			return fmt.Errorf("invalid seat label: %q", s)
		}
	}
	return nil
}

func seatArrayLiteral(seats []string) string {
	return fmt.Sprintf("{%s}", strings.Join(seats, ","))
}

// HoldSeats takes the requested seats for userID in a single conditional
// update: the merge only happens when none of the labels are present in
// occupied_seats, so two concurrent attempts on the same seat resolve to
// exactly one winner. Returns ErrSeatsUnavailable when the condition fails.
func HoldSeats(tx *gorm.DB, showID uint, userID string, seats []string) error {
	if err := ValidateSeatLabels(seats); err != nil {
		return err
	}
	if tx.Dialector.Name() != "postgres" {
		return holdSeatsPortable(tx, showID, userID, seats)
	}
	hold := types.JSONB{}
	for _, s := range seats {
		hold[s] = userID
	}
	res := tx.Exec(
		`UPDATE shows SET occupied_seats = occupied_seats || @hold::jsonb, updated_at = now()
		 WHERE id = @id AND NOT jsonb_exists_any(occupied_seats, @labels::text[])`,
		map[string]any{"hold": hold, "id": showID, "labels": seatArrayLiteral(seats)},
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSeatsUnavailable
	}
	return nil
}

// holdSeatsPortable is the read-modify-write fallback for stores without the
// jsonb operators. It relies on the caller's transaction for isolation.
func holdSeatsPortable(tx *gorm.DB, showID uint, userID string, seats []string) error {
	var show models.Show
	if err := tx.
		Model(&models.Show{}).
		Where(&models.Show{ID: showID}).
		First(&show).
		Error; err != nil {
		return err
	}
	if show.OccupiedSeats == nil {
		show.OccupiedSeats = types.JSONB{}
	}
	for _, s := range seats {
		if _, taken := show.OccupiedSeats[s]; taken {
			return ErrSeatsUnavailable
		}
	}
	for _, s := range seats {
		show.OccupiedSeats[s] = userID
	}
	return tx.
		Model(&models.Show{}).
		Where(&models.Show{ID: showID}).
		Update("occupied_seats", show.OccupiedSeats).
		Error
}

// ReleaseSeats frees the given labels on the show. Labels already free are
// left untouched, which keeps the release re-appliable.
func ReleaseSeats(tx *gorm.DB, showID uint, seats []string) error {
	if err := ValidateSeatLabels(seats); err != nil {
		return err
	}
	if tx.Dialector.Name() != "postgres" {
		return releaseSeatsPortable(tx, showID, seats)
	}
	return tx.Exec(
		`UPDATE shows SET occupied_seats = occupied_seats - @labels::text[], updated_at = now()
		 WHERE id = @id`,
		map[string]any{"labels": seatArrayLiteral(seats), "id": showID},
	).Error
}

func releaseSeatsPortable(tx *gorm.DB, showID uint, seats []string) error {
	var show models.Show
	err := tx.
		Model(&models.Show{}).
		Where(&models.Show{ID: showID}).
		First(&show).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	for _, s := range seats {
		delete(show.OccupiedSeats, s)
	}
	return tx.
		Model(&models.Show{}).
		Where(&models.Show{ID: showID}).
		Update("occupied_seats", show.OccupiedSeats).
		Error
}

// CancelBookingAndReleaseSeats undoes a freshly created booking whose
// deadline check could not be scheduled: without the check, a held seat
// would never be freed.
func CancelBookingAndReleaseSeats(bookingID uint) error {
	gdb := db.GetDb()
	return gdb.Transaction(func(tx *gorm.DB) error {
		var booking models.Booking
		err := tx.
			Model(&models.Booking{}).
			Where(&models.Booking{ID: bookingID}).
			First(&booking).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.
			Unscoped().
			Where("id = ? AND is_paid = ?", booking.ID, false).
			Delete(&models.Booking{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return ReleaseSeats(tx, booking.ShowID, booking.BookedSeats)
	})
}

// CreateBookingWithHold creates the Booking together with its seat hold in
// one transaction, so a failed hold never leaves a booking behind.
func CreateBookingWithHold(userID string, params *types.CreateBookingRequestBody) (*models.Booking, error) {
	gdb := db.GetDb()
	var booking models.Booking
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var show models.Show
		if err := tx.
			Model(&models.Show{}).
			Where(&models.Show{ID: params.ShowID}).
			Preload("Movie").
			First(&show).
			Error; err != nil {
			return err
		}
		if time.Now().After(show.ShowDateTime) {
			return ErrShowStarted
		}
		if err := HoldSeats(tx, show.ID, userID, params.Seats); err != nil {
			return err
		}
		booking = models.Booking{
			UserID:      userID,
			ShowID:      show.ID,
			Amount:      show.ShowPrice * float64(len(params.Seats)),
			BookedSeats: params.Seats,
			Show:        &show,
		}
		if err := tx.Omit("Show", "User").Create(&booking).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

var checkoutFunc func(*models.Booking, string) (*string, *string, error)

// NewCheckoutCreator Replace the hosted checkout call with a custom implementation
func NewCheckoutCreator(fn func(*models.Booking, string) (*string, *string, error)) {
	checkoutFunc = fn
}

// CreateStripeCheckout opens a hosted checkout session for the booking. The
// booking id travels in the session (and payment intent) metadata; the
// webhook recovers it from there, never from the client.
func CreateStripeCheckout(booking *models.Booking, movieTitle string) (*string, *string, error) {
	if checkoutFunc != nil {
		return checkoutFunc(booking, movieTitle)
	}
	sc := lib.GetStripeClient()
	appHost := os.Getenv("APP_HOST")
	bookingId := fmt.Sprintf("%d", booking.ID)
	metadata := map[string]string{"bookingId": bookingId}
	piParams := &stripe.CheckoutSessionCreatePaymentIntentDataParams{}
	for k, v := range metadata {
		piParams.AddMetadata(k, v)
	}
	createParams := stripe.CheckoutSessionCreateParams{
		SuccessURL:        stripe.String(fmt.Sprintf("%s/loading/my-bookings", appHost)),
		CancelURL:         stripe.String(fmt.Sprintf("%s/my-bookings", appHost)),
		UIMode:            stripe.String("hosted"),
		Mode:              stripe.String("payment"),
		PaymentIntentData: piParams,
		Metadata:          metadata,
		ExpiresAt:         stripe.Int64(time.Now().Add(30 * time.Minute).Unix()),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String("usd"),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(movieTitle),
					},
					UnitAmount: stripe.Int64(int64(booking.Amount * 100)),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	checkoutSession, err := sc.V1CheckoutSessions.Create(context.Background(), &createParams)
	if err != nil {
		log.Printf("CreateStripeCheckout failed: %s\n", err.Error())
		return nil, nil, err
	}
	log.Printf("CheckoutSessionID: %s\n", checkoutSession.ID)
	return &checkoutSession.URL, &checkoutSession.ID, nil
}

type DashboardStats struct {
	TotalBookings int64   `json:"total_bookings"`
	TotalRevenue  float64 `json:"total_revenue"`
	ActiveShows   int64   `json:"active_shows"`
	TotalUsers    int64   `json:"total_users"`
}

func GetDashboardStats() (*DashboardStats, error) {
	gdb := db.GetDb()
	stats := DashboardStats{}
	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Model(&models.Booking{}).
			Where(&models.Booking{IsPaid: true}).
			Count(&stats.TotalBookings).
			Error; err != nil {
			return err
		}
		var revenue *float64
		if err := tx.
			Model(&models.Booking{}).
			Where(&models.Booking{IsPaid: true}).
			Select("SUM(amount)").
			Scan(&revenue).
			Error; err != nil {
			return err
		}
		if revenue != nil {
			stats.TotalRevenue = *revenue
		}
		if err := tx.
			Model(&models.Show{}).
			Where("show_date_time > ?", time.Now()).
			Count(&stats.ActiveShows).
			Error; err != nil {
			return err
		}
		if err := tx.
			Model(&models.User{}).
			Count(&stats.TotalUsers).
			Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
