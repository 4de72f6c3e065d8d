package main

import (
	"log"
	"net/http"
	"time"

	"quickshow/src/common"
	"quickshow/src/config"
	"quickshow/src/db"
	"quickshow/src/models"
	"quickshow/src/types"
	"quickshow/src/workflow"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func showHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/shows", func(ctx *gin.Context) {
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
			// One entry per movie for the landing page.
			seen := map[string]bool{}
			movies := make([]*models.Movie, 0)
			for _, show := range shows {
				if show.Movie == nil || seen[show.MovieID] {
					continue
				}
				seen[show.MovieID] = true
				movies = append(movies, show.Movie)
			}
			ctx.JSON(http.StatusOK, gin.H{"data": movies})
		}).
		GET("/shows/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var show models.Show
			gdb := db.GetDb()
			if err := gdb.
				Model(&models.Show{}).
				Where(&models.Show{ID: params.ID}).
				Preload("Movie").
				First(&show).
				Error; err != nil {
				ctx.JSON(http.StatusNotFound, gin.H{"error": "show not found"})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": show})
		}).
		GET("/shows/:id/seats", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var show models.Show
			gdb := db.GetDb()
			if err := gdb.
				Model(&models.Show{}).
				Where(&models.Show{ID: params.ID}).
				First(&show).
				Error; err != nil {
				ctx.JSON(http.StatusNotFound, gin.H{"error": "show not found"})
				return
			}
			occupied := make([]string, 0, len(show.OccupiedSeats))
			for seat := range show.OccupiedSeats {
				occupied = append(occupied, seat)
			}
			ctx.JSON(http.StatusOK, gin.H{"id": show.ID, "occupied": occupied})
		}).
		GET("/movies/:id/shows", func(ctx *gin.Context) {
			movieId := ctx.Params.ByName("id")
			var shows []models.Show
			gdb := db.GetDb()
			if err := gdb.
				Model(&models.Show{}).
				Where(&models.Show{MovieID: movieId}).
				Where("show_date_time > ?", time.Now()).
				Preload("Movie").
				Order("show_date_time asc").
				Find(&shows).
				Error; err != nil {
				log.Printf("Error retrieving Shows for Movie [%s]: %s\n", movieId, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": shows, "count": len(shows)})
		})
	return g
}

// addShowHandlers registers the admin-only show creation route. Adding shows
// for a movie emits show.added exactly once for the batch.
func addShowHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/shows", func(ctx *gin.Context) {
			var body types.AddShowRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			gdb := db.GetDb()
			var movie models.Movie
			err := gdb.Transaction(func(tx *gorm.DB) error {
				err := tx.
					Model(&models.Movie{}).
					Where(&models.Movie{ID: body.MovieID}).
					First(&movie).
					Error
				if err != nil {
					if body.Movie == nil {
						return err
					}
					movie = models.Movie{
						ID:          body.MovieID,
						Title:       body.Movie.Title,
						Overview:    body.Movie.Overview,
						PosterPath:  body.Movie.PosterPath,
						ReleaseDate: body.Movie.ReleaseDate,
						Runtime:     body.Movie.Runtime,
						Genres:      types.StringArray(body.Movie.Genres),
						VoteAverage: body.Movie.VoteAverage,
					}
					if err := tx.
						Clauses(clause.OnConflict{DoNothing: true}).
						Create(&movie).
						Error; err != nil {
						return err
					}
				}
				for _, input := range body.Shows {
					datetime, err := time.Parse(config.TIME_PARSE_FORMAT, input.DateTime)
					if err != nil {
						return err
					}
					show := models.Show{
						MovieID:       movie.ID,
						ShowDateTime:  datetime,
						ShowPrice:     body.Price,
						OccupiedSeats: types.JSONB{},
					}
					if err := tx.Create(&show).Error; err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				log.Printf("Error adding shows for movie %s: %s\n", body.MovieID, err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			e := workflow.GetEngine()
			if err := e.Emit(common.EventShowAdded, types.JSONB{
				"movieId":    movie.ID,
				"movieTitle": movie.Title,
			}); err != nil {
				log.Printf("Error emitting show.added for movie %s: %s\n", movie.ID, err.Error())
			}
			ctx.JSON(http.StatusCreated, gin.H{"movie_id": movie.ID, "count": len(body.Shows)})
		})
	return g
}
