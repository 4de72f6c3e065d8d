package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"quickshow/src/common"
	"quickshow/src/config"
	"quickshow/src/db"
	"quickshow/src/lib"
	"quickshow/src/models"
	"quickshow/src/types"
	"quickshow/src/utils"
	"quickshow/src/workflow"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func bookingHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/bookings", func(ctx *gin.Context) {
			var body types.CreateBookingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetString("uid")
			booking, err := utils.CreateBookingWithHold(userId, &body)
			if err != nil {
				if errors.Is(err, utils.ErrSeatsUnavailable) {
					resp := gin.H{"error": err.Error()}
					rd := lib.GetRedisClient()
					if rd != nil {
						// A repeat attempt from the holder gets its pending
						// payment link back instead of a dead end.
						if link, err := rd.Get(context.Background(), "payment_link:"+userId).Result(); err == nil && link != "" {
							resp["url"] = link
						}
					}
					ctx.JSON(http.StatusConflict, resp)
					return
				}
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.JSON(http.StatusNotFound, gin.H{"error": "show not found"})
					return
				}
				if errors.Is(err, utils.ErrShowStarted) {
					ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				log.Printf("Error creating booking: %s\n", err.Error())
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not create booking"})
				return
			}
			// The deadline check must exist the moment the hold is committed:
			// every later failure (checkout, link save, this process dying)
			// then ends with the run releasing the seats at the deadline.
			deadline := time.Now().Add(config.HoldTimeout())
			e := workflow.GetEngine()
			if err := e.Emit(common.EventPaymentCheck, types.JSONB{
				"bookingId": booking.ID,
				"deadline":  deadline.Format(time.RFC3339),
			}); err != nil {
				log.Printf("Error emitting payment check for booking %d: %s\n", booking.ID, err.Error())
				if rerr := utils.CancelBookingAndReleaseSeats(booking.ID); rerr != nil {
					log.Printf("Error rolling back booking %d: %s\n", booking.ID, rerr.Error())
				}
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not create booking"})
				return
			}
			movieTitle := ""
			if booking.Show != nil && booking.Show.Movie != nil {
				movieTitle = booking.Show.Movie.Title
			}
			csURL, csID, err := utils.CreateStripeCheckout(booking, movieTitle)
			if err != nil {
				// Seats stay held until the deadline check fires; the booking
				// row is already covered by the run emitted above.
				ctx.JSON(http.StatusBadGateway, gin.H{"error": "could not create payment session"})
				return
			}
			gdb := db.GetDb()
			if err := gdb.
				Model(&models.Booking{}).
				Where(&models.Booking{ID: booking.ID}).
				Updates(&models.Booking{PaymentLink: *csURL, CheckoutSessionID: csID}).
				Error; err != nil {
				log.Printf("Error saving payment link for booking %d: %s\n", booking.ID, err.Error())
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not save payment session"})
				return
			}
			rd := lib.GetRedisClient()
			if rd != nil {
				rd.SetEx(context.Background(), "payment_link:"+userId, *csURL, config.HoldTimeout())
			}
			ctx.JSON(http.StatusCreated, gin.H{"id": booking.ID, "url": *csURL})
		})
	return g
}
