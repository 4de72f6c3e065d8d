package common

import (
	"context"
	"errors"
	"log"
	"time"

	"quickshow/src/db"
	"quickshow/src/models"
	"quickshow/src/types"
	"quickshow/src/utils"
	"quickshow/src/workflow"

	"gorm.io/gorm"
)

// ReleaseSeatsAndDeleteBooking enforces the hold deadline: it sleeps until
// the deadline carried in the event, then deletes the booking and frees its
// seats if payment never arrived. Both the booking lookup and the release
// tolerate already-reconciled state, so running the step twice ends in the
// same place as running it once.
func ReleaseSeatsAndDeleteBooking(ctx context.Context, ev *workflow.Event, step *workflow.Step) error {
	sDeadline, ok := payloadString(ev.Data, "deadline")
	if !ok {
		log.Printf("[payment-check] Event %s has no deadline. Dropping\n", ev.RunID.String())
		return nil
	}
	deadline, err := time.Parse(time.RFC3339, sDeadline)
	if err != nil {
		log.Printf("[payment-check] Could not parse deadline %q: %s\n", sDeadline, err.Error())
		return nil
	}
	if err := step.SleepUntil("wait-for-deadline", deadline); err != nil {
		return err
	}
	_, err = step.RunOnce("check-payment-status", func(ctx context.Context) (types.JSONB, error) {
		bookingID, ok := payloadUint(ev.Data, "bookingId")
		if !ok {
			log.Printf("[payment-check] Event %s has no bookingId. Dropping\n", ev.RunID.String())
			return types.JSONB{"released": false}, nil
		}
		released := false
		gdb := db.GetDb()
		err := gdb.Transaction(func(tx *gorm.DB) error {
			var booking models.Booking
			err := tx.
				Model(&models.Booking{}).
				Where(&models.Booking{ID: bookingID}).
				First(&booking).
				Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					log.Printf("[payment-check] Booking %d already gone\n", bookingID)
					return nil
				}
				return err
			}
			if booking.IsPaid {
				return nil
			}
			// The webhook may mark the booking paid between the read above
			// and this point; the delete is conditional on is_paid so a paid
			// booking is never removed and its seats never freed.
			res := tx.
				Unscoped().
				Where("id = ? AND is_paid = ?", booking.ID, false).
				Delete(&models.Booking{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				log.Printf("[payment-check] Booking %d was paid before the deadline check. Keeping\n", booking.ID)
				return nil
			}
			if err := utils.ReleaseSeats(tx, booking.ShowID, booking.BookedSeats); err != nil {
				return err
			}
			released = true
			log.Printf("[payment-check] Released %d seat(s) for expired booking %d\n", len(booking.BookedSeats), booking.ID)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return types.JSONB{"released": released}, nil
	})
	return err
}
