package middlewares

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"quickshow/src/lib"

	"github.com/gin-gonic/gin"
)

type cachedIdentity struct {
	UID   string `json:"uid"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

func tokenCacheKey(idToken string) string {
	sum := sha256.Sum256([]byte(idToken))
	return fmt.Sprintf("token:%x", sum)
}

// VerifyIdToken authenticates the request against the identity provider.
// The verified token's custom claims carry the role flag used by AdminOnly.
// Verified identities are cached in redis keyed by token hash, so repeat
// requests with the same token skip the provider round-trip.
func VerifyIdToken(ctx *gin.Context) {
	idToken := ctx.GetHeader("Authorization")
	idToken = strings.TrimPrefix(idToken, "Bearer ")
	if idToken == "" {
		err := errors.New("missing authorization header")
		log.Printf("Check failed: %s\n", err.Error())
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	rd := lib.GetRedisClient()
	if rd != nil {
		if raw, err := rd.Get(context.Background(), tokenCacheKey(idToken)).Result(); err == nil {
			var ident cachedIdentity
			if err := json.Unmarshal([]byte(raw), &ident); err == nil && ident.UID != "" {
				setIdentity(ctx, &ident)
				return
			}
		}
	}
	fauth, err := lib.GetFirebaseAuth()
	if err != nil {
		log.Printf("Error retrieving Firebase Auth instance: %s\n", err.Error())
		ctx.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	token, err := fauth.VerifyIDToken(ctx, idToken)
	if err != nil {
		msg := "Failed to verify ID token"
		log.Printf("%s: %s\n", msg, err.Error())
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}
	ident := cachedIdentity{UID: token.UID}
	if role, ok := token.Claims["role"].(string); ok {
		ident.Role = role
	}
	if email, ok := token.Claims["email"].(string); ok {
		ident.Email = email
	}
	if rd != nil {
		if raw, err := json.Marshal(&ident); err == nil {
			// Firebase ID tokens expire after an hour; never cache longer.
			rd.Set(context.Background(), tokenCacheKey(idToken), raw, time.Hour)
		}
	}
	setIdentity(ctx, &ident)
}

func setIdentity(ctx *gin.Context, ident *cachedIdentity) {
	ctx.Set("uid", ident.UID)
	if ident.Role != "" {
		ctx.Set("role", ident.Role)
	}
	if ident.Email != "" {
		ctx.Set("email", ident.Email)
	}
}

// AdminOnly guards the admin route group. Unauthenticated requests get 401,
// authenticated non-admins 403.
func AdminOnly(ctx *gin.Context) {
	uid := ctx.GetString("uid")
	if uid == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	if ctx.GetString("role") != "admin" {
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return
	}
}

func SecureHeaders(ctx *gin.Context) {
	ctx.Header("X-Content-Type-Options", "nosniff")
	ctx.Header("X-Frame-Options", "DENY")
	ctx.Header("Referrer-Policy", "strict-origin-when-cross-origin")
}
