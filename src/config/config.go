package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

// Defaults for the booking-payment reconciliation flow. The reminder cadence
// is tunable because the 8h/10m window can skip shows near schedule
// boundaries.
const (
	DefaultHoldTimeout       = 10 * time.Minute
	DefaultReminderLead      = 8 * time.Hour
	DefaultReminderTolerance = 10 * time.Minute
	DefaultReminderCron      = "0 */8 * * *"
)

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// HoldTimeout returns how long unpaid bookings keep their seats.
func HoldTimeout() time.Duration {
	return durationEnv("BOOKING_HOLD_TIMEOUT", DefaultHoldTimeout)
}

func ReminderLead() time.Duration {
	return durationEnv("REMINDER_LEAD", DefaultReminderLead)
}

func ReminderTolerance() time.Duration {
	return durationEnv("REMINDER_TOLERANCE", DefaultReminderTolerance)
}

func ReminderCron() string {
	if v := os.Getenv("REMINDER_CRON"); v != "" {
		return v
	}
	return DefaultReminderCron
}

func WorkflowMaxAttempts() uint {
	v := os.Getenv("WORKFLOW_MAX_ATTEMPTS")
	if v == "" {
		return 3
	}
	atoi, err := strconv.Atoi(v)
	if err != nil || atoi < 1 {
		return 3
	}
	return uint(atoi)
}
