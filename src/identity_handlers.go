package main

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"

	"quickshow/src/common"
	"quickshow/src/types"
	"quickshow/src/workflow"

	"github.com/gin-gonic/gin"
)

// identityWebhookRoute accepts user lifecycle pushes from the identity
// provider and forwards them into the workflow engine. Delivery is
// at-least-once upstream; the sync functions are upserts, so duplicates are
// harmless.
func identityWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/identity", func(ctx *gin.Context) {
		secret := os.Getenv("IDENTITY_WEBHOOK_SECRET")
		provided := ctx.GetHeader("X-Webhook-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
			ctx.Status(http.StatusBadRequest)
			return
		}
		var body types.IdentityWebhookBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var eventName string
		switch body.Type {
		case "user.created":
			eventName = common.EventIdentityCreated
		case "user.updated":
			eventName = common.EventIdentityUpdated
		case "user.deleted":
			eventName = common.EventIdentityDeleted
		default:
			log.Printf("[identity] Ignoring event type %s\n", body.Type)
			ctx.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		e := workflow.GetEngine()
		if err := e.Emit(eventName, body.Data); err != nil {
			log.Printf("[identity] Error emitting %s: %s\n", eventName, err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"received": true})
	})
	return apiv1
}
