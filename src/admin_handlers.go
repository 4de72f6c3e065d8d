package main

import (
	"log"
	"net/http"
	"time"

	"quickshow/src/db"
	"quickshow/src/models"
	"quickshow/src/utils"

	"github.com/gin-gonic/gin"
)

func adminHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/admin/check", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"is_admin": true})
		}).
		GET("/admin/dashboard", func(ctx *gin.Context) {
			stats, err := utils.GetDashboardStats()
			if err != nil {
				log.Printf("Error computing dashboard stats: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": stats})
		}).
		GET("/admin/bookings", func(ctx *gin.Context) {
			var bookings []models.Booking
			gdb := db.GetDb()
			if err := gdb.
				Model(&models.Booking{}).
				Preload("User").
				Preload("Show.Movie").
				Order("created_at desc").
				Limit(100).
				Find(&bookings).
				Error; err != nil {
				log.Printf("Error retrieving Bookings: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": bookings, "count": len(bookings)})
		}).
		GET("/admin/shows", func(ctx *gin.Context) {
			var shows []models.Show
			gdb := db.GetDb()
			if err := gdb.
				Model(&models.Show{}).
				Where("show_date_time > ?", time.Now()).
				Preload("Movie").
				Order("show_date_time asc").
				Find(&shows).
				Error; err != nil {
				log.Printf("Error retrieving Shows: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": shows, "count": len(shows)})
		})
	return g
}
