package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DeliverFunc is called when a reminder fires.
type DeliverFunc func(ctx context.Context, r *Reminder) error

// Engine manages reminder timers and delivery.
type Engine struct {
	logger  *slog.Logger
	store   *Store
	deliver DeliverFunc

	mu       sync.Mutex
	idle     *sync.Cond             // signaled when inflight drops
	timers   map[string]*time.Timer // reminder ID -> timer
	running  bool
	inflight int // deliveries past the running check, counted under mu
}

// NewEngine creates a reminder engine.
func NewEngine(logger *slog.Logger, store *Store, deliver DeliverFunc) *Engine {
	e := &Engine{
		logger:  logger,
		store:   store,
		deliver: deliver,
		timers:  make(map[string]*time.Timer),
	}
	e.idle = sync.NewCond(&e.mu)
	return e
}

// Start loads enabled reminders and arms their timers.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	reminders, err := e.store.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, r := range reminders {
		e.schedule(r)
	}

	e.logger.Debug("reminder engine started", "reminders", len(reminders))
	return nil
}

// Stop halts the engine and waits for in-flight deliveries.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	// A fired timer that already passed the running check has
	// incremented inflight under this same lock; wait it out.
	for e.inflight > 0 {
		e.idle.Wait()
	}
	e.mu.Unlock()

	e.logger.Info("reminder engine stopped")
}

// Set persists a new reminder and arms its timer.
func (e *Engine) Set(ctx context.Context, r *Reminder) error {
	r.Enabled = true
	if err := e.store.Create(ctx, r); err != nil {
		return err
	}
	e.schedule(r)

	e.logger.Info("reminder set",
		"id", r.ID,
		"user_id", r.UserID,
		"at", r.At,
		"recurring", r.Every != nil,
	)
	return nil
}

// List returns a user's reminders.
func (e *Engine) List(ctx context.Context, userID string) ([]*Reminder, error) {
	return e.store.ListForUser(ctx, userID)
}

// Cancel disables and removes a reminder. Returns false when the
// reminder does not exist or belongs to another user.
func (e *Engine) Cancel(ctx context.Context, userID, id string) (bool, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if r == nil || r.UserID != userID {
		return false, nil
	}

	e.cancelTimer(id)
	if err := e.store.Delete(ctx, id); err != nil {
		return false, err
	}

	e.logger.Info("reminder cancelled", "id", id, "user_id", userID)
	return true, nil
}

// DueToday returns a user's reminders whose next run falls inside the
// calendar day containing now in loc.
func (e *Engine) DueToday(ctx context.Context, userID string, now time.Time, loc *time.Location) ([]*Reminder, error) {
	all, err := e.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var due []*Reminder
	for _, r := range all {
		if r.DueToday(now, loc) {
			due = append(due, r)
		}
	}
	return due, nil
}

// schedule arms a timer for the reminder's next run.
func (e *Engine) schedule(r *Reminder) {
	next, ok := r.NextRun(time.Now())
	if !ok {
		return
	}

	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if timer, exists := e.timers[r.ID]; exists {
		timer.Stop()
	}
	id := r.ID
	e.timers[id] = time.AfterFunc(delay, func() {
		e.onFire(id)
	})

	e.logger.Debug("reminder scheduled", "id", r.ID, "next", next, "delay", delay)
}

// onFire runs when a reminder's timer expires.
func (e *Engine) onFire(id string) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.inflight++
	delete(e.timers, id)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inflight--
		e.idle.Broadcast()
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	r, err := e.store.Get(ctx, id)
	if err != nil || r == nil || !r.Enabled {
		if err != nil {
			e.logger.Error("load reminder for delivery", "id", id, "error", err)
		}
		return
	}

	if e.deliver != nil {
		if err := e.deliver(ctx, r); err != nil {
			e.logger.Error("reminder delivery failed", "id", id, "error", err)
		}
	}

	now := time.Now()
	r.LastFired = &now
	if r.Every == nil {
		r.Enabled = false // One-shot: fired, done
	}
	if err := e.store.Update(ctx, r); err != nil {
		e.logger.Error("update reminder after delivery", "id", id, "error", err)
	}

	if r.Every != nil {
		e.schedule(r)
	}
}

// cancelTimer stops and removes a reminder's timer.
func (e *Engine) cancelTimer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, exists := e.timers[id]; exists {
		timer.Stop()
		delete(e.timers, id)
	}
}
