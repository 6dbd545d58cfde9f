// Package scheduler arms cron schedules for active configurations and turns
// due fires into durable ExecuteFileCheck commands, which a bounded worker
// pool hands to the execution engine.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/metrics"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/store"
)

// CatchUpPolicy decides what happens with fires missed while the process was
// down: run the single latest missed fire, or drop them all.
type CatchUpPolicy string

const (
	CatchUpLatest CatchUpPolicy = "latest"
	CatchUpDrop   CatchUpPolicy = "drop"
)

const (
	defaultWorkers = 8
	// Upper bound when scanning a schedule forward for missed fires.
	maxCatchUpScan = 1000
)

// Runner executes one file check. Satisfied by the engine.
type Runner interface {
	ExecuteByID(ctx context.Context, tenantID, configID string, instant time.Time, executionID string) (*models.RetrievalExecution, error)
}

// Options tune the scheduler.
type Options struct {
	Workers int
	CatchUp CatchUpPolicy
}

// Scheduler owns the fire queue and the worker pool. A single goroutine
// mutates the queue; fires are published as durable commands so they survive
// a crash between fire and execution.
type Scheduler struct {
	store  *store.Store
	bus    bus.Bus
	runner Runner
	opts   Options

	queue *fireQueue
	sem   *semaphore.Weighted
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool

	now func() time.Time
}

// New builds a scheduler and registers its bus subscriptions. Call Run to
// start arming and firing.
func New(st *store.Store, b bus.Bus, runner Runner, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.CatchUp == "" {
		opts.CatchUp = CatchUpLatest
	}
	s := &Scheduler{
		store:    st,
		bus:      b,
		runner:   runner,
		opts:     opts,
		queue:    newFireQueue(),
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		inFlight: make(map[string]bool),
		now:      time.Now,
	}
	b.Subscribe(models.KindExecuteFileCheck, s.handleCommand)
	b.Subscribe(models.KindConfigurationChanged, s.handleConfigurationChanged)
	return s
}

// ValidateSchedule checks a cron expression and IANA timezone pair without
// arming anything.
func ValidateSchedule(cronExpression, timezone string) error {
	if _, err := cron.ParseStandard(cronExpression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpression, err)
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return nil
}

// Run loads active configurations, then fires until ctx is cancelled.
// Cancellation stops arming first; in-flight executions drain before return.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.loadActive(ctx); err != nil {
		return err
	}

	log.Info().Int("armed", s.queue.len()).Int("workers", s.opts.Workers).Msg("Scheduler started")
	for {
		e, ok := s.queue.waitNext(ctx)
		if !ok {
			break
		}
		s.fire(ctx, e)
	}

	log.Info().Msg("Scheduler stopping, draining in-flight executions")
	s.wg.Wait()
	return nil
}

func (s *Scheduler) loadActive(ctx context.Context) error {
	configs, err := s.store.ListActiveConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("load active configurations: %w", err)
	}

	perTenant := make(map[string]int)
	for _, cfg := range configs {
		if err := s.Arm(ctx, cfg); err != nil {
			log.Error().Err(err).
				Str("tenant", cfg.TenantID).
				Str("config", cfg.ConfigID).
				Msg("Skipping configuration with invalid schedule")
			continue
		}
		perTenant[cfg.TenantID]++
	}
	for tenant, n := range perTenant {
		metrics.ActiveConfigurations.WithLabelValues(tenant).Set(float64(n))
	}
	return nil
}

// Arm schedules future fires for a configuration and, per the catch-up
// policy, replays the latest fire missed while the process was down.
func (s *Scheduler) Arm(ctx context.Context, cfg *models.RetrievalConfiguration) error {
	schedule, err := cron.ParseStandard(cfg.CronExpression)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", cfg.CronExpression, err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	now := s.now().UTC()
	if missed, ok := s.latestMissedFire(ctx, cfg, schedule, loc, now); ok {
		switch s.opts.CatchUp {
		case CatchUpLatest:
			log.Info().
				Str("tenant", cfg.TenantID).
				Str("config", cfg.ConfigID).
				Time("missedFire", missed).
				Msg("Replaying fire missed while down")
			s.publishFire(ctx, cfg.TenantID, cfg.ConfigID, missed)
		default:
			log.Debug().
				Str("tenant", cfg.TenantID).
				Str("config", cfg.ConfigID).
				Time("missedFire", missed).
				Msg("Dropping fires missed while down")
			if err := s.store.SetLastFire(ctx, cfg.TenantID, cfg.ConfigID, missed); err != nil {
				log.Error().Err(err).Str("config", cfg.ConfigID).Msg("Failed to advance last fire")
			}
		}
	}

	e := &entry{
		key:      cfg.Key(),
		tenantID: cfg.TenantID,
		configID: cfg.ConfigID,
		schedule: schedule,
		loc:      loc,
		next:     schedule.Next(now.In(loc)).UTC(),
	}
	s.queue.upsert(e)
	metrics.ArmedConfigurations.Set(float64(s.queue.len()))

	log.Debug().
		Str("tenant", cfg.TenantID).
		Str("config", cfg.ConfigID).
		Time("nextFire", e.next).
		Msg("Configuration armed")
	return nil
}

// Disarm removes a configuration from the fire queue.
func (s *Scheduler) Disarm(tenantID, configID string) {
	if s.queue.remove(models.ConfigKey(tenantID, configID)) {
		metrics.ArmedConfigurations.Set(float64(s.queue.len()))
		log.Debug().Str("tenant", tenantID).Str("config", configID).Msg("Configuration disarmed")
	}
}

// latestMissedFire walks the schedule forward from the recorded last fire and
// returns the most recent instant that should have fired before now.
func (s *Scheduler) latestMissedFire(ctx context.Context, cfg *models.RetrievalConfiguration, schedule cron.Schedule, loc *time.Location, now time.Time) (time.Time, bool) {
	last, ok, err := s.store.LastFire(ctx, cfg.TenantID, cfg.ConfigID)
	if err != nil {
		log.Error().Err(err).Str("config", cfg.ConfigID).Msg("Failed to read last fire")
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}

	var missed time.Time
	t := last.In(loc)
	for i := 0; i < maxCatchUpScan; i++ {
		t = schedule.Next(t)
		if t.IsZero() || !t.Before(now.In(loc)) {
			break
		}
		missed = t.UTC()
	}
	return missed, !missed.IsZero()
}

// fire handles one due entry: skip if the previous execution is still
// running, otherwise publish the durable command, then re-arm.
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	fireAt := e.next

	if s.isInFlight(e.key) {
		metrics.SkippedOverlappingFires.WithLabelValues(e.tenantID, e.configID).Inc()
		log.Warn().
			Str("tenant", e.tenantID).
			Str("config", e.configID).
			Time("fireAt", fireAt).
			Msg("Skipping fire, previous execution still running")
	} else {
		s.setInFlight(e.key, true)
		s.publishFire(ctx, e.tenantID, e.configID, fireAt)
	}

	e.next = e.schedule.Next(fireAt.In(e.loc)).UTC()
	s.queue.upsert(e)
}

func (s *Scheduler) publishFire(ctx context.Context, tenantID, configID string, instant time.Time) {
	cmd := models.ExecuteFileCheck{
		Envelope: models.Envelope{
			MessageID:      uuid.NewString(),
			CorrelationID:  uuid.NewString(),
			OccurredUtc:    s.now().UTC(),
			IdempotencyKey: fmt.Sprintf("%s:%s:%d", tenantID, configID, instant.Unix()),
			TenantID:       tenantID,
			ConfigID:       configID,
		},
		ScheduledInstantUtc: instant,
	}
	if err := s.bus.Send(ctx, models.KindExecuteFileCheck, cmd); err != nil {
		log.Error().Err(err).
			Str("tenant", tenantID).
			Str("config", configID).
			Msg("Failed to publish file check command")
		s.setInFlight(models.ConfigKey(tenantID, configID), false)
		return
	}
	if err := s.store.SetLastFire(ctx, tenantID, configID, instant); err != nil {
		log.Error().Err(err).Str("config", configID).Msg("Failed to record last fire")
	}
}

// TriggerNow publishes an immediate manual check, bypassing the overlap
// guard. Returns the execution ID assigned to the run.
func (s *Scheduler) TriggerNow(ctx context.Context, tenantID, configID string) (string, error) {
	executionID := uuid.NewString()
	cmd := models.ExecuteFileCheck{
		Envelope: models.Envelope{
			MessageID:      uuid.NewString(),
			CorrelationID:  executionID,
			OccurredUtc:    s.now().UTC(),
			IdempotencyKey: fmt.Sprintf("%s:%s:manual:%s", tenantID, configID, executionID),
			TenantID:       tenantID,
			ConfigID:       configID,
			ExecutionID:    executionID,
		},
		ScheduledInstantUtc: s.now().UTC(),
	}
	if err := s.bus.Send(ctx, models.KindExecuteFileCheck, cmd); err != nil {
		return "", err
	}
	return executionID, nil
}

// handleCommand is the worker-pool entry point for ExecuteFileCheck.
// Semaphore acquisition bounds concurrency by backpressuring the dispatcher.
func (s *Scheduler) handleCommand(ctx context.Context, msg bus.Message) error {
	var cmd models.ExecuteFileCheck
	if err := msg.Decode(&cmd); err != nil {
		log.Error().Err(err).Msg("Dropping malformed ExecuteFileCheck command")
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer s.setInFlight(models.ConfigKey(cmd.TenantID, cmd.ConfigID), false)

		instant := cmd.ScheduledInstantUtc
		if instant.IsZero() {
			instant = s.now().UTC()
		}
		if _, err := s.runner.ExecuteByID(ctx, cmd.TenantID, cmd.ConfigID, instant, cmd.ExecutionID); err != nil {
			log.Error().Err(err).
				Str("tenant", cmd.TenantID).
				Str("config", cmd.ConfigID).
				Msg("File check failed")
		}
	}()
	return nil
}

// handleConfigurationChanged re-arms or disarms on configuration CRUD.
func (s *Scheduler) handleConfigurationChanged(ctx context.Context, msg bus.Message) error {
	var change models.ConfigurationChanged
	if err := msg.Decode(&change); err != nil {
		log.Error().Err(err).Msg("Dropping malformed ConfigurationChanged event")
		return nil
	}

	if change.Kind == models.ConfigurationDeleted || !change.IsActive {
		s.Disarm(change.TenantID, change.ConfigID)
		return nil
	}

	cfg, err := s.store.GetConfiguration(ctx, change.TenantID, change.ConfigID)
	if err != nil {
		log.Error().Err(err).
			Str("tenant", change.TenantID).
			Str("config", change.ConfigID).
			Msg("Failed to load changed configuration")
		return nil
	}
	if err := s.Arm(ctx, cfg); err != nil {
		log.Error().Err(err).
			Str("tenant", change.TenantID).
			Str("config", change.ConfigID).
			Msg("Failed to arm changed configuration")
	}
	return nil
}

func (s *Scheduler) isInFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[key]
}

func (s *Scheduler) setInFlight(key string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.inFlight[key] = true
	} else {
		delete(s.inFlight, key)
	}
}
