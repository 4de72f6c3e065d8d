package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"quickshow/src/common"
	"quickshow/src/db"
	"quickshow/src/lib"
	"quickshow/src/middlewares"
	"quickshow/src/models"
	"quickshow/src/types"
	"quickshow/src/utils"
	"quickshow/src/workflow"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testStripeSecret   = "whsec_test_secret"
	testIdentitySecret = "identity_test_secret"
)

// stubAuth stands in for VerifyIdToken so guard behavior can be exercised
// without an identity provider. Callers assert identity via request headers.
func stubAuth(ctx *gin.Context) {
	if uid := ctx.GetHeader("X-Test-Uid"); uid != "" {
		ctx.Set("uid", uid)
	}
	if role := ctx.GetHeader("X-Test-Role"); role != "" {
		ctx.Set("role", role)
	}
}

type RouterTestSuite struct {
	suite.Suite
	DB     *gorm.DB
	Router *gin.Engine
	Redis  *miniredis.Miniredis
}

func (s *RouterTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("showdate", showDateTimeValidatorFunc)
	}
	os.Setenv("STRIPE_WEBHOOK_SECRET", testStripeSecret)
	os.Setenv("IDENTITY_WEBHOOK_SECRET", testIdentitySecret)
	lib.NewMailSender(func(in *lib.SendMailInput) error { return nil })

	mr, err := miniredis.Run()
	if err != nil {
		log.Fatalf("Error starting redis: %s", err.Error())
	}
	s.Redis = mr
	lib.NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening the test database", err)
	}
	err = gdb.AutoMigrate(
		&models.User{},
		&models.Movie{},
		&models.Show{},
		&models.Booking{},
		&models.WorkflowRun{},
		&models.WorkflowStep{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}
	db.NewDB(gdb)
	s.DB = gdb

	sched, err := lib.GetScheduler()
	if err != nil {
		log.Fatalf("Error initializing scheduler: %s", err.Error())
	}
	sched.Start()
	common.RegisterWorkflows(workflow.GetEngine())

	router := setupRouter()
	stripeWebhookRoute(router)
	identityWebhookRoute(router)

	apiv1 := apiv1Group(router)
	showHandlers(apiv1)

	authed := apiv1Group(router)
	authed.Use(middlewares.VerifyIdToken)
	userHandlers(authed)
	bookingHandlers(authed)

	admin := apiv1Group(router)
	admin.Use(stubAuth, middlewares.AdminOnly)
	adminHandlers(admin)
	addShowHandlers(admin)

	s.Router = router
}

func (s *RouterTestSuite) TearDownSuite() {
	sched, _ := lib.GetScheduler()
	if sched != nil {
		sched.Shutdown()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
}

func (s *RouterTestSuite) SetupTest() {
	for _, table := range []string{"workflow_steps", "workflow_runs", "bookings", "shows", "movies", "users"} {
		s.DB.Exec("DELETE FROM " + table)
	}
	s.Redis.FlushAll()
	utils.NewCheckoutCreator(nil)
}

// bearerFor caches an identity for the given token so the auth middleware
// resolves it without the identity provider.
func (s *RouterTestSuite) bearerFor(token, uid, role string) map[string]string {
	raw, err := json.Marshal(gin.H{"uid": uid, "role": role})
	assert.Nil(s.T(), err)
	key := fmt.Sprintf("token:%x", sha256.Sum256([]byte(token)))
	err = lib.GetRedisClient().Set(context.Background(), key, raw, time.Hour).Err()
	assert.Nil(s.T(), err)
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
}

func (s *RouterTestSuite) seedShow() *models.Show {
	movie := models.Movie{ID: "m1", Title: "Solaris"}
	assert.Nil(s.T(), s.DB.Create(&movie).Error)
	show := models.Show{
		MovieID:       movie.ID,
		ShowDateTime:  time.Now().Add(24 * time.Hour),
		ShowPrice:     10,
		OccupiedSeats: types.JSONB{},
	}
	assert.Nil(s.T(), s.DB.Create(&show).Error)
	return &show
}

func (s *RouterTestSuite) request(method, path string, body *strings.Reader, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	if body == nil {
		body = strings.NewReader("")
	}
	req, _ := http.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	s.Router.ServeHTTP(w, req)
	return w
}

func stripeSignature(payload, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func (s *RouterTestSuite) TestPingRoute() {
	w := s.request(http.MethodGet, "/", nil, nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), "\"ok\"", w.Body.String())
	assert.Equal(s.T(), "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func (s *RouterTestSuite) TestMaintenanceMode() {
	router := gin.New()
	maintenanceModeMiddleware(router)
	router.GET("/guarded", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	os.Setenv("MAINTENANCE_MODE", "true")
	defer os.Unsetenv("MAINTENANCE_MODE")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/guarded", nil)
	router.ServeHTTP(w, req)
	assert.Equal(s.T(), http.StatusServiceUnavailable, w.Code)

	os.Setenv("MAINTENANCE_MODE", "false")
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/guarded", nil)
	router.ServeHTTP(w, req)
	assert.Equal(s.T(), http.StatusOK, w.Code)
}

func (s *RouterTestSuite) TestAuthedRoutesRejectMissingToken() {
	w := s.request(http.MethodGet, "/api/v1/user/bookings", nil, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func (s *RouterTestSuite) TestAdminGuard() {
	w := s.request(http.MethodGet, "/api/v1/admin/check", nil, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)

	w = s.request(http.MethodGet, "/api/v1/admin/check", nil, map[string]string{
		"X-Test-Uid": "user_1", "X-Test-Role": "user",
	})
	assert.Equal(s.T(), http.StatusForbidden, w.Code)

	w = s.request(http.MethodGet, "/api/v1/admin/check", nil, map[string]string{
		"X-Test-Uid": "admin_1", "X-Test-Role": "admin",
	})
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.True(s.T(), gjson.Get(w.Body.String(), "is_admin").Bool())
}

func (s *RouterTestSuite) TestListShowsGroupsByMovie() {
	movie := models.Movie{ID: "m1", Title: "Solaris"}
	assert.Nil(s.T(), s.DB.Create(&movie).Error)
	for _, offset := range []time.Duration{24 * time.Hour, 48 * time.Hour} {
		show := models.Show{MovieID: movie.ID, ShowDateTime: time.Now().Add(offset), ShowPrice: 11}
		assert.Nil(s.T(), s.DB.Create(&show).Error)
	}
	past := models.Show{MovieID: movie.ID, ShowDateTime: time.Now().Add(-time.Hour), ShowPrice: 11}
	assert.Nil(s.T(), s.DB.Create(&past).Error)

	w := s.request(http.MethodGet, "/api/v1/shows", nil, nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	data := gjson.Get(w.Body.String(), "data")
	assert.Len(s.T(), data.Array(), 1)
	assert.Equal(s.T(), "Solaris", data.Get("0.title").String())
}

func (s *RouterTestSuite) TestOccupiedSeatsRoute() {
	movie := models.Movie{ID: "m1", Title: "Solaris"}
	assert.Nil(s.T(), s.DB.Create(&movie).Error)
	show := models.Show{
		MovieID:       movie.ID,
		ShowDateTime:  time.Now().Add(24 * time.Hour),
		ShowPrice:     11,
		OccupiedSeats: types.JSONB{"A1": "user_1", "B2": "user_2"},
	}
	assert.Nil(s.T(), s.DB.Create(&show).Error)

	w := s.request(http.MethodGet, fmt.Sprintf("/api/v1/shows/%d/seats", show.ID), nil, nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	occupied := gjson.Get(w.Body.String(), "occupied").Array()
	assert.Len(s.T(), occupied, 2)

	w = s.request(http.MethodGet, "/api/v1/shows/999999/seats", nil, nil)
	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}

func (s *RouterTestSuite) TestAddShowsCreatesMovieAndShows() {
	future := time.Now().Add(72 * time.Hour).Format("2006-01-02 15:04:05 -07:00")
	body := fmt.Sprintf(`{
		"movie_id": "m42",
		"movie": {"title": "Playtime", "overview": "Tati", "runtime": 155, "genres": ["Comedy"]},
		"shows": [{"date_time": %q}],
		"price": 14.5
	}`, future)

	w := s.request(http.MethodPost, "/api/v1/shows", strings.NewReader(body), map[string]string{
		"X-Test-Uid": "admin_1", "X-Test-Role": "admin", "Content-Type": "application/json",
	})
	assert.Equal(s.T(), http.StatusCreated, w.Code)
	assert.Equal(s.T(), "m42", gjson.Get(w.Body.String(), "movie_id").String())

	var count int64
	s.DB.Model(&models.Show{}).Where(&models.Show{MovieID: "m42"}).Count(&count)
	assert.EqualValues(s.T(), 1, count)
	var movie models.Movie
	assert.Nil(s.T(), s.DB.First(&movie, "id = ?", "m42").Error)
	assert.Equal(s.T(), "Playtime", movie.Title)
	assert.Equal(s.T(), types.StringArray{"Comedy"}, movie.Genres)
}

func (s *RouterTestSuite) TestVerifyIdTokenServesCachedIdentity() {
	// The identity provider is not configured here, so a 200 can only come
	// from the cached identity.
	headers := s.bearerFor("cached-token-1", "user_7", "user")
	w := s.request(http.MethodGet, "/api/v1/user/bookings", nil, headers)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.EqualValues(s.T(), 0, gjson.Get(w.Body.String(), "count").Int())
}

func (s *RouterTestSuite) TestCreateBookingReturnsCheckoutLink() {
	show := s.seedShow()
	utils.NewCheckoutCreator(func(b *models.Booking, movieTitle string) (*string, *string, error) {
		url, id := "https://checkout.example/cs_1", "cs_1"
		return &url, &id, nil
	})

	body := fmt.Sprintf(`{"show_id": %d, "seats": ["A1", "A2"]}`, show.ID)
	w := s.request(http.MethodPost, "/api/v1/bookings", strings.NewReader(body), s.bearerFor("tok-u1", "user_1", "user"))
	assert.Equal(s.T(), http.StatusCreated, w.Code)
	assert.Equal(s.T(), "https://checkout.example/cs_1", gjson.Get(w.Body.String(), "url").String())

	var booking models.Booking
	assert.Nil(s.T(), s.DB.First(&booking, gjson.Get(w.Body.String(), "id").Uint()).Error)
	assert.Equal(s.T(), "https://checkout.example/cs_1", booking.PaymentLink)

	var updated models.Show
	assert.Nil(s.T(), s.DB.First(&updated, show.ID).Error)
	assert.Equal(s.T(), "user_1", updated.OccupiedSeats["A1"])
	assert.Equal(s.T(), "user_1", updated.OccupiedSeats["A2"])

	link, err := lib.GetRedisClient().Get(context.Background(), "payment_link:user_1").Result()
	assert.Nil(s.T(), err)
	assert.Equal(s.T(), "https://checkout.example/cs_1", link)
}

func (s *RouterTestSuite) TestCreateBookingCheckoutFailureKeepsDeadlineCheck() {
	show := s.seedShow()
	utils.NewCheckoutCreator(func(b *models.Booking, movieTitle string) (*string, *string, error) {
		return nil, nil, fmt.Errorf("payment provider unreachable")
	})

	body := fmt.Sprintf(`{"show_id": %d, "seats": ["C3"]}`, show.ID)
	w := s.request(http.MethodPost, "/api/v1/bookings", strings.NewReader(body), s.bearerFor("tok-u2", "user_2", "user"))
	assert.Equal(s.T(), http.StatusBadGateway, w.Code)

	// The hold survives the checkout failure, and the deadline check that
	// will reclaim it is already on the books.
	var booking models.Booking
	assert.Nil(s.T(), s.DB.First(&booking, &models.Booking{UserID: "user_2"}).Error)
	var updated models.Show
	assert.Nil(s.T(), s.DB.First(&updated, show.ID).Error)
	assert.Equal(s.T(), "user_2", updated.OccupiedSeats["C3"])
	var runs int64
	s.DB.Model(&models.WorkflowRun{}).
		Where(&models.WorkflowRun{FunctionID: "release-seats-delete-booking"}).
		Count(&runs)
	assert.EqualValues(s.T(), 1, runs)
}

func (s *RouterTestSuite) TestSeatConflictReturnsPendingPaymentLink() {
	show := s.seedShow()
	utils.NewCheckoutCreator(func(b *models.Booking, movieTitle string) (*string, *string, error) {
		url, id := "https://checkout.example/cs_2", "cs_2"
		return &url, &id, nil
	})
	headers := s.bearerFor("tok-u3", "user_3", "user")

	body := fmt.Sprintf(`{"show_id": %d, "seats": ["D4"]}`, show.ID)
	w := s.request(http.MethodPost, "/api/v1/bookings", strings.NewReader(body), headers)
	assert.Equal(s.T(), http.StatusCreated, w.Code)

	// Retrying while the hold is pending hands back the existing link.
	w = s.request(http.MethodPost, "/api/v1/bookings", strings.NewReader(body), headers)
	assert.Equal(s.T(), http.StatusConflict, w.Code)
	assert.Equal(s.T(), "https://checkout.example/cs_2", gjson.Get(w.Body.String(), "url").String())
}

func (s *RouterTestSuite) TestAdminBookingsStoreFailureReturns500() {
	assert.Nil(s.T(), s.DB.Migrator().DropTable(&models.Booking{}))
	defer func() {
		assert.Nil(s.T(), s.DB.AutoMigrate(&models.Booking{}))
	}()

	w := s.request(http.MethodGet, "/api/v1/admin/bookings", nil, map[string]string{
		"X-Test-Uid": "admin_1", "X-Test-Role": "admin",
	})
	assert.Equal(s.T(), http.StatusInternalServerError, w.Code)
}

func (s *RouterTestSuite) TestIdentityWebhookSecret() {
	body := `{"type": "user.created", "data": {"id": "user_9", "name": "Ada", "email": "ada@example.com"}}`

	w := s.request(http.MethodPost, "/api/v1/webhook/identity", strings.NewReader(body), map[string]string{
		"X-Webhook-Secret": "wrong", "Content-Type": "application/json",
	})
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	w = s.request(http.MethodPost, "/api/v1/webhook/identity", strings.NewReader(body), map[string]string{
		"X-Webhook-Secret": testIdentitySecret, "Content-Type": "application/json",
	})
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.True(s.T(), gjson.Get(w.Body.String(), "received").Bool())

	// The sync runs asynchronously through the engine.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var user models.User
		if err := s.DB.First(&user, "id = ?", "user_9").Error; err == nil {
			assert.Equal(s.T(), "Ada", user.Name)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.T().Fatal("user was never synced from the identity webhook")
}

func (s *RouterTestSuite) TestIdentityWebhookIgnoresUnknownTypes() {
	body := `{"type": "session.created", "data": {}}`
	w := s.request(http.MethodPost, "/api/v1/webhook/identity", strings.NewReader(body), map[string]string{
		"X-Webhook-Secret": testIdentitySecret, "Content-Type": "application/json",
	})
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.True(s.T(), gjson.Get(w.Body.String(), "received").Bool())
}

func (s *RouterTestSuite) TestStripeWebhookRejectsBadSignature() {
	payload := `{"id": "evt_1", "object": "event", "type": "payment_intent.succeeded"}`

	w := s.request(http.MethodPost, "/api/v1/webhook/stripe", strings.NewReader(payload), nil)
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	w = s.request(http.MethodPost, "/api/v1/webhook/stripe", strings.NewReader(payload), map[string]string{
		"Stripe-Signature": stripeSignature(payload, "whsec_other_secret", time.Now()),
	})
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestStripeWebhookAcksUnhandledEvents() {
	payload := `{"id": "evt_2", "object": "event", "type": "charge.refunded", "data": {"object": {}}}`
	w := s.request(http.MethodPost, "/api/v1/webhook/stripe", strings.NewReader(payload), map[string]string{
		"Stripe-Signature": stripeSignature(payload, testStripeSecret, time.Now()),
	})
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.True(s.T(), gjson.Get(w.Body.String(), "received").Bool())
}

func TestRouterRunner(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
