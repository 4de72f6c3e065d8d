package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"quickshow/src/common"
	"quickshow/src/db"
	"quickshow/src/lib"
	"quickshow/src/models"
	"quickshow/src/types"
	"quickshow/src/workflow"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func stripeWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/stripe", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		whsecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
		event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), whsecret)
		if err != nil {
			log.Printf("Error verifying webhook signature: %s\n", err.Error())
			ctx.Status(http.StatusBadRequest)
			return
		}
		log.Printf("[StripeEvent] %s\n", event.Type)
		switch event.Type {
		case "payment_intent.succeeded":
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
				log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
				break
			}
			if err := reconcilePaymentIntent(&pi); err != nil {
				log.Printf("Webhook processing error: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
		default:
			log.Printf("Unhandled event type: %s\n", event.Type)
		}
		ctx.JSON(http.StatusOK, gin.H{"received": true})
	})
	return apiv1
}

// reconcilePaymentIntent marks the booking behind a succeeded payment as
// paid. The booking id comes from the checkout session's metadata, looked up
// by payment intent at the gateway, never from anything client-supplied. The
// update is a pure overwrite, so replayed deliveries settle on the same
// state; a missing session or metadata entry is a benign inconsistency that
// gets logged and acknowledged.
func reconcilePaymentIntent(pi *stripe.PaymentIntent) error {
	sc := lib.GetStripeClient()
	list := sc.V1CheckoutSessions.List(context.Background(), &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(pi.ID),
	})
	var session *stripe.CheckoutSession
	for cs, err := range list {
		if err != nil {
			log.Printf("Error listing checkout sessions for %s: %s\n", pi.ID, err.Error())
			return err
		}
		session = cs
		break
	}
	if session == nil {
		log.Printf("No checkout session found for payment intent %s. Skipping\n", pi.ID)
		return nil
	}
	sBookingId := session.Metadata["bookingId"]
	if sBookingId == "" {
		log.Printf("Checkout session %s carries no bookingId metadata. Skipping\n", session.ID)
		return nil
	}
	atoi, err := strconv.Atoi(sBookingId)
	if err != nil {
		log.Printf("Could not parse bookingId %q for session %s: %s\n", sBookingId, session.ID, err.Error())
		return nil
	}
	bookingId := uint(atoi)
	gdb := db.GetDb()
	if err := gdb.
		Model(&models.Booking{}).
		Where(&models.Booking{ID: bookingId}).
		Updates(map[string]any{
			"is_paid":             true,
			"payment_link":        "",
			"checkout_session_id": nil,
		}).
		Error; err != nil {
		return err
	}
	log.Printf("Booking %d marked paid via payment intent %s\n", bookingId, pi.ID)
	e := workflow.GetEngine()
	return e.Emit(common.EventShowBooked, types.JSONB{"bookingId": bookingId})
}
