package boot

import (
	"log"

	"quickshow/src/common"
	"quickshow/src/db"
	"quickshow/src/lib"
	"quickshow/src/models"
	"quickshow/src/workflow"

	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(
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

	return db
}

// InitWorkflows registers every workflow function, re-queues runs left over
// from a previous process, and installs the cron functions.
func InitWorkflows() {
	e := workflow.GetEngine()
	common.RegisterWorkflows(e)
	if err := e.Recover(); err != nil {
		log.Printf("Error recovering workflow runs: %s\n", err.Error())
	}
	if err := e.Start(); err != nil {
		log.Fatalf("Error starting workflow crons: %s", err.Error())
	}
}

func InitScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	jobsWaitingInQueue := len(sched.Jobs())
	log.Println("Jobs in queue:", jobsWaitingInQueue)
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while stopping Scheduler. Check logs for info")
		return
	}
}
