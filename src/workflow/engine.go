package workflow

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"quickshow/src/config"
	"quickshow/src/db"
	"quickshow/src/lib"
	"quickshow/src/models"
	"quickshow/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSuspended is returned through a handler when a durable sleep has been
// scheduled. The engine parks the run instead of treating it as a failure.
var ErrSuspended = errors.New("workflow: run suspended")

type Event struct {
	RunID uuid.UUID
	Name  string
	Data  types.JSONB
}

type HandlerFunc func(ctx context.Context, ev *Event, step *Step) error

type registration struct {
	functionID string
	handler    HandlerFunc
}

type cronEntry struct {
	crontab    string
	functionID string
	handler    HandlerFunc
}

// Engine is a persisted job-queue substitute for a durable-execution
// backend: every event delivery becomes a WorkflowRun row, wake-up timers go
// through the gocron scheduler, and step completion is recorded per
// (run, step) so retries only re-run uncompleted steps. Delivery is
// at-least-once; handlers must be idempotent.
type Engine struct {
	mu          sync.RWMutex
	events      map[string][]registration
	handlers    map[string]HandlerFunc
	crons       []cronEntry
	maxAttempts uint
	backoff     time.Duration
}

var engine *Engine

func GetEngine() *Engine {
	if engine != nil {
		return engine
	}
	engine = New()
	return engine
}

func New() *Engine {
	return &Engine{
		events:      make(map[string][]registration),
		handlers:    make(map[string]HandlerFunc),
		maxAttempts: config.WorkflowMaxAttempts(),
		backoff:     30 * time.Second,
	}
}

// NewEngine Replace the engine singleton with a custom instance
func NewEngine(e *Engine) *Engine {
	engine = e
	return engine
}

func (e *Engine) OnEvent(eventName, functionID string, h HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[eventName] = append(e.events[eventName], registration{functionID: functionID, handler: h})
	e.handlers[functionID] = h
}

func (e *Engine) OnCron(crontab, functionID string, h HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.crons = append(e.crons, cronEntry{crontab: crontab, functionID: functionID, handler: h})
	e.handlers[functionID] = h
}

// Emit persists one run per registered handler and dispatches each
// asynchronously. Events with no consumer are logged and dropped.
func (e *Engine) Emit(eventName string, payload types.JSONB) error {
	e.mu.RLock()
	regs := e.events[eventName]
	e.mu.RUnlock()
	if len(regs) == 0 {
		log.Printf("[workflow] No functions registered for event %s\n", eventName)
		return nil
	}
	gdb := db.GetDb()
	for _, reg := range regs {
		run := models.WorkflowRun{
			ID:         uuid.New(),
			FunctionID: reg.functionID,
			EventName:  eventName,
			Payload:    payload,
			Status:     models.WORKFLOW_RUN_PENDING,
		}
		if err := gdb.Create(&run).Error; err != nil {
			log.Printf("[workflow] Error creating run for %s: %s\n", reg.functionID, err.Error())
			return err
		}
		go e.dispatch(run.ID)
	}
	return nil
}

// Start registers the cron functions with the scheduler. Each tick creates
// its own run so cron work gets the same retry and memoization treatment as
// event-triggered work.
func (e *Engine) Start() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.crons {
		entry := c
		if _, err := lib.CreateCronJob(entry.crontab, func() {
			gdb := db.GetDb()
			run := models.WorkflowRun{
				ID:         uuid.New(),
				FunctionID: entry.functionID,
				EventName:  "cron",
				Payload:    types.JSONB{},
				Status:     models.WORKFLOW_RUN_PENDING,
			}
			if err := gdb.Create(&run).Error; err != nil {
				log.Printf("[workflow] Error creating cron run for %s: %s\n", entry.functionID, err.Error())
				return
			}
			e.dispatch(run.ID)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) dispatch(runID uuid.UUID) {
	gdb := db.GetDb()
	var run models.WorkflowRun
	if err := gdb.
		Model(&models.WorkflowRun{}).
		Where(&models.WorkflowRun{ID: runID}).
		First(&run).
		Error; err != nil {
		log.Printf("[workflow] Error loading run %s: %s\n", runID.String(), err.Error())
		return
	}
	if run.Status == models.WORKFLOW_RUN_COMPLETED || run.Status == models.WORKFLOW_RUN_FAILED {
		return
	}
	// A wake-up from a durable sleep is a continuation, not a retry; only
	// fresh and failed entries consume an attempt.
	if run.Status != models.WORKFLOW_RUN_SLEEPING {
		run.Attempts++
	}
	if err := gdb.
		Model(&models.WorkflowRun{}).
		Where(&models.WorkflowRun{ID: runID}).
		Updates(map[string]any{
			"status":   models.WORKFLOW_RUN_RUNNING,
			"attempts": run.Attempts,
		}).
		Error; err != nil {
		log.Printf("[workflow] Error updating run %s: %s\n", runID.String(), err.Error())
		return
	}

	e.mu.RLock()
	handler := e.handlers[run.FunctionID]
	e.mu.RUnlock()
	if handler == nil {
		msg := "no handler registered for function " + run.FunctionID
		log.Printf("[workflow] %s\n", msg)
		gdb.Model(&models.WorkflowRun{}).
			Where(&models.WorkflowRun{ID: runID}).
			Updates(map[string]any{"status": models.WORKFLOW_RUN_FAILED, "last_error": msg})
		return
	}

	ev := &Event{RunID: run.ID, Name: run.EventName, Data: run.Payload}
	step := &Step{engine: e, run: &run}
	err := handler(context.Background(), ev, step)
	switch {
	case err == nil:
		gdb.Model(&models.WorkflowRun{}).
			Where(&models.WorkflowRun{ID: runID}).
			Updates(map[string]any{"status": models.WORKFLOW_RUN_COMPLETED, "last_error": nil})
	case errors.Is(err, ErrSuspended):
		// SleepUntil already parked the run and scheduled the wake-up.
	default:
		log.Printf("[workflow] Run %s (%s) attempt %d failed: %s\n", runID.String(), run.FunctionID, run.Attempts, err.Error())
		msg := err.Error()
		if run.Attempts >= e.maxAttempts {
			gdb.Model(&models.WorkflowRun{}).
				Where(&models.WorkflowRun{ID: runID}).
				Updates(map[string]any{"status": models.WORKFLOW_RUN_FAILED, "last_error": msg})
			return
		}
		gdb.Model(&models.WorkflowRun{}).
			Where(&models.WorkflowRun{ID: runID}).
			Updates(map[string]any{"status": models.WORKFLOW_RUN_PENDING, "last_error": msg})
		if _, err := lib.CreateOneTimeJob(time.Now().Add(e.backoff), func() {
			e.dispatch(runID)
		}); err != nil {
			log.Printf("[workflow] Error scheduling retry for run %s: %s\n", runID.String(), err.Error())
		}
	}
}

func (e *Engine) resume(runID uuid.UUID) {
	e.dispatch(runID)
}

// Recover re-queues every run the process may have dropped: pending and
// running runs dispatch immediately, sleeping runs are re-scheduled at their
// persisted wake time (or immediately when the wake time has passed).
func (e *Engine) Recover() error {
	gdb := db.GetDb()
	var runs []models.WorkflowRun
	if err := gdb.
		Model(&models.WorkflowRun{}).
		Where(clause.IN{Column: "status", Values: []any{
			models.WORKFLOW_RUN_PENDING,
			models.WORKFLOW_RUN_RUNNING,
			models.WORKFLOW_RUN_SLEEPING,
		}}).
		Order("created_at asc").
		Limit(500).
		Find(&runs).
		Error; err != nil {
		log.Printf("[workflow] Error retrieving unfinished runs: %s\n", err.Error())
		return err
	}
	log.Printf("[workflow] Found %d unfinished runs", len(runs))
	for _, run := range runs {
		runID := run.ID
		if run.Status == models.WORKFLOW_RUN_SLEEPING && run.WakeAt != nil && run.WakeAt.After(time.Now()) {
			if _, err := lib.CreateOneTimeJob(*run.WakeAt, func() {
				e.resume(runID)
			}); err != nil {
				log.Printf("[workflow] Failed to re-schedule run [%s]. Skipping: %s\n", runID.String(), err.Error())
			}
			continue
		}
		go e.dispatch(runID)
	}
	return nil
}

// Step exposes the durable primitives available inside a workflow function.
type Step struct {
	engine *Engine
	run    *models.WorkflowRun
}

// RunOnce executes fn at most once per run. The output of a completed step
// is persisted and returned verbatim on every later attempt.
func (s *Step) RunOnce(stepID string, fn func(ctx context.Context) (types.JSONB, error)) (types.JSONB, error) {
	gdb := db.GetDb()
	var existing models.WorkflowStep
	err := gdb.
		Model(&models.WorkflowStep{}).
		Where(&models.WorkflowStep{RunID: s.run.ID, StepID: stepID}).
		First(&existing).
		Error
	if err == nil {
		return existing.Output, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	out, err := fn(context.Background())
	if err != nil {
		return nil, err
	}
	record := models.WorkflowStep{
		RunID:       s.run.ID,
		StepID:      stepID,
		Output:      out,
		CompletedAt: time.Now(),
	}
	if err := gdb.Create(&record).Error; err != nil {
		// A concurrent attempt may have completed the step first; its
		// recorded output wins.
		var raced models.WorkflowStep
		if ferr := gdb.
			Where(&models.WorkflowStep{RunID: s.run.ID, StepID: stepID}).
			First(&raced).
			Error; ferr == nil {
			return raced.Output, nil
		}
		return nil, err
	}
	return out, nil
}

// SleepUntil durably suspends the run until t. The wake-up survives a crash
// because it is re-created from the persisted run on Recover. Callers must
// propagate ErrSuspended up to the engine.
func (s *Step) SleepUntil(stepID string, t time.Time) error {
	gdb := db.GetDb()
	var existing models.WorkflowStep
	err := gdb.
		Model(&models.WorkflowStep{}).
		Where(&models.WorkflowStep{RunID: s.run.ID, StepID: stepID}).
		First(&existing).
		Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if !t.After(time.Now()) {
		record := models.WorkflowStep{
			RunID:       s.run.ID,
			StepID:      stepID,
			CompletedAt: time.Now(),
		}
		if err := gdb.Create(&record).Error; err != nil {
			return err
		}
		return nil
	}
	if err := gdb.
		Model(&models.WorkflowRun{}).
		Where(&models.WorkflowRun{ID: s.run.ID}).
		Updates(map[string]any{
			"status":  models.WORKFLOW_RUN_SLEEPING,
			"wake_at": t,
		}).
		Error; err != nil {
		return err
	}
	runID := s.run.ID
	if _, err := s.engine.CreateWake(runID, t); err != nil {
		return err
	}
	return ErrSuspended
}

// CreateWake schedules a one-time resume of the run at t.
func (e *Engine) CreateWake(runID uuid.UUID, t time.Time) (*string, error) {
	return lib.CreateOneTimeJob(t, func() {
		e.resume(runID)
	})
}

// SetResult stores an arbitrary result document on the run, visible once the
// run completes.
func (s *Step) SetResult(result types.JSONB) error {
	gdb := db.GetDb()
	return gdb.
		Model(&models.WorkflowRun{}).
		Where(&models.WorkflowRun{ID: s.run.ID}).
		Update("result", result).
		Error
}
