package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"quickshow/src/config"
	"quickshow/src/db"
	"quickshow/src/lib"
	"quickshow/src/models"
	"quickshow/src/types"
	"quickshow/src/workflow"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const emailFanOutLimit = 8

func confirmationEmailBody(name, movieTitle string, showTime time.Time) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px;">
  <h2>Hi %s,</h2>
  <p>Your booking for <strong>"%s"</strong> is confirmed.</p>
  <p><strong>Date:</strong> %s</p>
  <p>Enjoy the show!</p>
  <p>Thanks for booking with us!<br/><strong>- QuickShow Team -</strong></p>
</div>`, name, movieTitle, showTime.Format("Monday, 02 Jan 2006 15:04"))
}

func reminderEmailBody(name, movieTitle string, showTime time.Time) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px;">
  <h2>Hi %s,</h2>
  <p>This is a quick reminder that your movie <strong>"%s"</strong> is about to start soon!</p>
  <p><strong>Showtime:</strong> %s</p>
  <p>Please arrive a few minutes early and enjoy the experience!</p>
  <p>Wishing you a great time!<br/><strong>- QuickShow Team -</strong></p>
</div>`, name, movieTitle, showTime.Format("Monday, 02 Jan 2006 15:04"))
}

func newShowEmailBody(name, movieTitle string) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px;">
  <h2>Hi %s,</h2>
  <p>We've just added a new show to our library:</p>
  <h3>"%s"</h3>
  <p>Visit our website to book your seat!</p>
  <br/>
  <p>Thanks,<br/>QuickShow Team</p>
</div>`, name, movieTitle)
}

// fanOutEmails sends every message with bounded concurrency. Individual
// failures are logged and counted, never escalated; sibling sends always
// proceed.
func fanOutEmails(inputs []*lib.SendMailInput) (sent, failed int) {
	var mu sync.Mutex
	g := errgroup.Group{}
	g.SetLimit(emailFanOutLimit)
	for _, input := range inputs {
		input := input
		g.Go(func() error {
			if err := lib.SendMail(input); err != nil {
				log.Printf("[mail] Error sending to %v: %s\n", input.To, err.Error())
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return sent, failed
}

// SendBookingConfirmationEmail reacts to show.booked. Duplicate deliveries
// may duplicate the email; they never fail the run or touch booking state.
func SendBookingConfirmationEmail(ctx context.Context, ev *workflow.Event, step *workflow.Step) error {
	bookingID, ok := payloadUint(ev.Data, "bookingId")
	if !ok {
		log.Printf("[confirmation] Event %s has no bookingId. Dropping\n", ev.RunID.String())
		return nil
	}
	_, err := step.RunOnce("send-confirmation-email", func(ctx context.Context) (types.JSONB, error) {
		gdb := db.GetDb()
		var booking models.Booking
		err := gdb.
			Model(&models.Booking{}).
			Where(&models.Booking{ID: bookingID}).
			Preload("Show.Movie").
			Preload("User").
			First(&booking).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[confirmation] Booking %d not found. Skipping\n", bookingID)
				return types.JSONB{"sent": false}, nil
			}
			return nil, err
		}
		if booking.User == nil || booking.Show == nil || booking.Show.Movie == nil {
			log.Printf("[confirmation] Booking %d is missing its user or show. Skipping\n", bookingID)
			return types.JSONB{"sent": false}, nil
		}
		movieTitle := booking.Show.Movie.Title
		if err := lib.SendMail(&lib.SendMailInput{
			To:      []string{booking.User.Email},
			Subject: fmt.Sprintf("Payment Confirmation: %q booked!", movieTitle),
			Body:    confirmationEmailBody(booking.User.Name, movieTitle, booking.Show.ShowDateTime),
			Html:    true,
		}); err != nil {
			return nil, err
		}
		return types.JSONB{"sent": true}, nil
	})
	return err
}

// SendNewShowNotifications fans a promotional email out to every user when
// shows for a new movie appear. The notifications_sent flag on the movie's
// shows is the idempotence guard: it is coarse (per movie, not per user), so
// a crash mid-fan-out can still duplicate some sends on retry.
func SendNewShowNotifications(ctx context.Context, ev *workflow.Event, step *workflow.Step) error {
	movieID, ok := payloadString(ev.Data, "movieId")
	if !ok {
		log.Printf("[show-added] Event %s has no movieId. Dropping\n", ev.RunID.String())
		return nil
	}
	movieTitle, _ := payloadString(ev.Data, "movieTitle")
	result, err := step.RunOnce("notify-users", func(ctx context.Context) (types.JSONB, error) {
		gdb := db.GetDb()
		var shows []models.Show
		if err := gdb.
			Model(&models.Show{}).
			Where(&models.Show{MovieID: movieID}).
			Find(&shows).
			Error; err != nil {
			return nil, err
		}
		if len(shows) > 0 && shows[0].NotificationsSent {
			log.Printf("[show-added] Notifications already sent for movie %s\n", movieID)
			return types.JSONB{"skipped": true}, nil
		}
		var users []models.User
		if err := gdb.
			Model(&models.User{}).
			Find(&users).
			Error; err != nil {
			return nil, err
		}
		inputs := make([]*lib.SendMailInput, 0, len(users))
		for _, user := range users {
			if user.Email == "" {
				continue
			}
			inputs = append(inputs, &lib.SendMailInput{
				To:      []string{user.Email},
				Subject: fmt.Sprintf("New Show Added: %s", movieTitle),
				Body:    newShowEmailBody(user.Name, movieTitle),
				Html:    true,
			})
		}
		sent, failed := fanOutEmails(inputs)
		if err := gdb.
			Model(&models.Show{}).
			Where(&models.Show{MovieID: movieID}).
			Update("notifications_sent", true).
			Error; err != nil {
			return nil, err
		}
		return types.JSONB{"sent": sent, "failed": failed}, nil
	})
	if err != nil {
		return err
	}
	return step.SetResult(result)
}

// ReminderWindow returns the lookahead band for reminder emails: shows
// starting one lead interval from now, widened backwards by the tolerance.
func ReminderWindow(now time.Time) (start, end time.Time) {
	end = now.Add(config.ReminderLead())
	start = end.Add(-config.ReminderTolerance())
	return start, end
}

type reminderTask struct {
	UserEmail  string    `json:"user_email"`
	UserName   string    `json:"user_name"`
	MovieTitle string    `json:"movie_title"`
	ShowTime   time.Time `json:"show_time"`
}

// prepareReminderTasks collects one task per distinct (user, show) pair with
// seats held in the window.
func prepareReminderTasks(now time.Time) ([]reminderTask, error) {
	gdb := db.GetDb()
	start, end := ReminderWindow(now)
	var shows []models.Show
	if err := gdb.
		Model(&models.Show{}).
		Where("show_date_time BETWEEN ? AND ?", start, end).
		Preload("Movie").
		Find(&shows).
		Error; err != nil {
		return nil, err
	}
	tasks := []reminderTask{}
	for _, show := range shows {
		if show.Movie == nil || len(show.OccupiedSeats) == 0 {
			continue
		}
		seen := map[string]bool{}
		userIds := []string{}
		for _, holder := range show.OccupiedSeats {
			uid, ok := holder.(string)
			if !ok || seen[uid] {
				continue
			}
			seen[uid] = true
			userIds = append(userIds, uid)
		}
		if len(userIds) == 0 {
			continue
		}
		var users []models.User
		if err := gdb.
			Model(&models.User{}).
			Where("id IN (?)", userIds).
			Select("id", "name", "email").
			Find(&users).
			Error; err != nil {
			return nil, err
		}
		for _, user := range users {
			if user.Email == "" {
				continue
			}
			tasks = append(tasks, reminderTask{
				UserEmail:  user.Email,
				UserName:   user.Name,
				MovieTitle: show.Movie.Title,
				ShowTime:   show.ShowDateTime,
			})
		}
	}
	return tasks, nil
}

func decodeReminderTasks(out types.JSONB) ([]reminderTask, error) {
	raw, err := json.Marshal(out["tasks"])
	if err != nil {
		return nil, err
	}
	var tasks []reminderTask
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// SendShowReminders is the cron function. Task preparation and the send
// fan-out are separate steps so a retry after a partial failure reuses the
// prepared task list instead of recomputing the window.
func SendShowReminders(ctx context.Context, ev *workflow.Event, step *workflow.Step) error {
	prepared, err := step.RunOnce("prepare-reminder-tasks", func(ctx context.Context) (types.JSONB, error) {
		tasks, err := prepareReminderTasks(time.Now())
		if err != nil {
			return nil, err
		}
		return types.JSONB{"tasks": tasks}, nil
	})
	if err != nil {
		return err
	}
	tasks, err := decodeReminderTasks(prepared)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return step.SetResult(types.JSONB{"sent": 0, "message": "No reminders to send"})
	}
	result, err := step.RunOnce("send-all-reminders", func(ctx context.Context) (types.JSONB, error) {
		inputs := make([]*lib.SendMailInput, 0, len(tasks))
		for _, task := range tasks {
			inputs = append(inputs, &lib.SendMailInput{
				To:      []string{task.UserEmail},
				Subject: fmt.Sprintf("Reminder: Your movie %q starts soon!", task.MovieTitle),
				Body:    reminderEmailBody(task.UserName, task.MovieTitle, task.ShowTime),
				Html:    true,
			})
		}
		sent, failed := fanOutEmails(inputs)
		return types.JSONB{
			"sent":    sent,
			"failed":  failed,
			"message": fmt.Sprintf("Sent %d reminder(s), %d failed.", sent, failed),
		}, nil
	})
	if err != nil {
		return err
	}
	return step.SetResult(result)
}
