package timesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/multierr"

	"github.com/envirodiy/loggermodem/logging"
)

// runTimeout bounds a whole scheduled sync: power up, attach, fetch, detach.
const runTimeout = 5 * time.Minute

// Link is the part of a modem a scheduled sync wakes, attaches and puts back to sleep.
type Link interface {
	sync.Locker
	ConnectNetwork(ctx context.Context) error
	DisconnectNetwork(ctx context.Context) error
	Deactivate(ctx context.Context) error
}

// Result describes the last completed sync.
type Result struct {
	Runs   int
	Synced bool
	Err    error
	At     time.Time
}

// Scheduler syncs the clock on a fixed interval.
type Scheduler struct {
	scheduler gocron.Scheduler
	link      Link
	client    *Client
	interval  time.Duration
	logger    logging.Logger

	mu     sync.Mutex
	result Result
}

// NewScheduler returns a scheduler that is not running yet.
func NewScheduler(link Link, client *Client, interval time.Duration, logger logging.Logger) (*Scheduler, error) {
	syncLogger := logger.Sublogger("scheduler")
	scheduler, err := gocron.NewScheduler(gocron.WithLogger(gocronLogger{syncLogger}))
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		scheduler: scheduler,
		link:      link,
		client:    client,
		interval:  interval,
		logger:    syncLogger,
	}, nil
}

// RunOnce wakes the modem, attaches to the network, syncs the clock and puts the modem back to
// sleep. The modem is held for the whole run.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	s.link.Lock()
	defer s.link.Unlock()

	synced, err := s.syncLocked(ctx)
	if teardownErr := multierr.Combine(s.link.DisconnectNetwork(ctx), s.link.Deactivate(ctx)); teardownErr != nil {
		s.logger.Warnw("putting modem to sleep failed", "error", teardownErr)
	}

	s.mu.Lock()
	s.result = Result{Runs: s.result.Runs + 1, Synced: synced, Err: err, At: time.Now()}
	s.mu.Unlock()
	return synced, err
}

func (s *Scheduler) syncLocked(ctx context.Context) (bool, error) {
	if err := s.link.ConnectNetwork(ctx); err != nil {
		return false, err
	}
	return s.client.SyncClock(ctx)
}

// Start schedules the sync job, running it right away and then every interval.
func (s *Scheduler) Start() error {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			defer cancel()
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Warnw("scheduled clock sync failed", "error", err)
			}
		}),
		gocron.WithName("clock-sync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}
	s.logger.Infow("scheduled clock sync", "job", job.ID().String(), "interval", s.interval.String())
	s.scheduler.Start()
	return nil
}

// LastResult returns the outcome of the most recent run.
func (s *Scheduler) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Shutdown stops the scheduler, waiting for a running sync to finish.
func (s *Scheduler) Shutdown() error {
	s.logger.Info("shutting down clock sync scheduler")
	return s.scheduler.Shutdown()
}

// gocronLogger forwards scheduler messages to a logging.Logger.
type gocronLogger struct {
	logger logging.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) {
	l.logger.Debugw(msg, keysAndValues(args)...)
}

func (l gocronLogger) Info(msg string, args ...any) {
	l.logger.Infow(msg, keysAndValues(args)...)
}

func (l gocronLogger) Warn(msg string, args ...any) {
	l.logger.Warnw(msg, keysAndValues(args)...)
}

func (l gocronLogger) Error(msg string, args ...any) {
	l.logger.Errorw(msg, keysAndValues(args)...)
}

// keysAndValues stringifies keys so odd key types from the scheduler do not break the encoder.
func keysAndValues(args []any) []interface{} {
	out := make([]interface{}, len(args))
	for i, arg := range args {
		if i%2 == 0 {
			out[i] = fmt.Sprint(arg)
			continue
		}
		out[i] = arg
	}
	return out
}
