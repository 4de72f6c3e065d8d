package lib

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

var scheduler gocron.Scheduler

func NewScheduler(s gocron.Scheduler) {
	scheduler = s
}

func GetScheduler() (gocron.Scheduler, error) {
	if scheduler != nil {
		return scheduler, nil
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("Error initializing Scheduler: %s\n", err.Error())
		return nil, err
	}
	scheduler = sched
	numJobs := len(sched.Jobs())
	log.Printf("Jobs in queue: %d\n", numJobs)
	return sched, nil
}

// CreateOneTimeJob schedules fn to run once at startDate. Dates already in
// the past run immediately.
func CreateOneTimeJob(startDate time.Time, fn func()) (*string, error) {
	sched, err := GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return nil, err
	}
	def := gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(startDate))
	if !startDate.After(time.Now()) {
		def = gocron.OneTimeJob(gocron.OneTimeJobStartImmediately())
	}
	j, err := sched.NewJob(
		def,
		gocron.NewTask(fn),
	)
	if err != nil {
		return nil, err
	}
	id := j.ID().String()
	return &id, nil
}

// CreateCronJob schedules fn on a crontab expression.
func CreateCronJob(crontab string, fn func()) (*string, error) {
	sched, err := GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return nil, err
	}
	j, err := sched.NewJob(
		gocron.CronJob(crontab, false),
		gocron.NewTask(fn),
	)
	if err != nil {
		return nil, err
	}
	id := j.ID().String()
	log.Printf("Job: %s %s\n", id, j.Name())
	return &id, nil
}
