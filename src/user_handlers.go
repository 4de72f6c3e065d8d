package main

import (
	"log"
	"net/http"

	"quickshow/src/db"
	"quickshow/src/lib"
	"quickshow/src/models"
	"quickshow/src/types"

	"github.com/gin-gonic/gin"
)

func userHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/user/bookings", func(ctx *gin.Context) {
			userId := ctx.GetString("uid")
			var bookings []models.Booking
			gdb := db.GetDb()
			if err := gdb.
				Model(&models.Booking{}).
				Where(&models.Booking{UserID: userId}).
				Preload("Show.Movie").
				Order("created_at desc").
				Find(&bookings).
				Error; err != nil {
				log.Printf("Error retrieving Bookings for user %s: %s\n", userId, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": bookings, "count": len(bookings)})
		}).
		POST("/user/favorites", func(ctx *gin.Context) {
			var body types.UpdateFavoriteRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			userId := ctx.GetString("uid")
			favorites, err := toggleFavorite(ctx, userId, body.MovieID)
			if err != nil {
				log.Printf("Error updating favorites for user %s: %s\n", userId, err.Error())
				ctx.JSON(http.StatusBadGateway, gin.H{"error": "could not update favorites"})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": favorites})
		}).
		GET("/user/favorites", func(ctx *gin.Context) {
			userId := ctx.GetString("uid")
			favorites, err := getFavorites(ctx, userId)
			if err != nil {
				log.Printf("Error retrieving favorites for user %s: %s\n", userId, err.Error())
				ctx.JSON(http.StatusBadGateway, gin.H{"error": "could not retrieve favorites"})
				return
			}
			if len(favorites) == 0 {
				ctx.JSON(http.StatusOK, gin.H{"data": []models.Movie{}})
				return
			}
			var movies []models.Movie
			gdb := db.GetDb()
			if err := gdb.
				Model(&models.Movie{}).
				Where("id IN (?)", favorites).
				Find(&movies).
				Error; err != nil {
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": movies})
		})
	return g
}

// Favorites live in the identity provider's per-user custom claims, next to
// the role flag, mirroring how the provider owns all preference metadata.
// Concurrent toggles are not synchronized: last write wins.
func getFavorites(ctx *gin.Context, userId string) ([]string, error) {
	fauth, err := lib.GetFirebaseAuth()
	if err != nil {
		return nil, err
	}
	user, err := fauth.GetUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	raw, _ := user.CustomClaims["favorites"].([]any)
	favorites := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			favorites = append(favorites, s)
		}
	}
	return favorites, nil
}

func toggleFavorite(ctx *gin.Context, userId, movieId string) ([]string, error) {
	fauth, err := lib.GetFirebaseAuth()
	if err != nil {
		return nil, err
	}
	user, err := fauth.GetUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	claims := map[string]any{}
	for k, v := range user.CustomClaims {
		claims[k] = v
	}
	raw, _ := claims["favorites"].([]any)
	favorites := make([]string, 0, len(raw))
	found := false
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s == movieId {
			found = true
			continue
		}
		favorites = append(favorites, s)
	}
	if !found {
		favorites = append(favorites, movieId)
	}
	claims["favorites"] = favorites
	if err := fauth.SetCustomUserClaims(ctx, userId, claims); err != nil {
		return nil, err
	}
	return favorites, nil
}
