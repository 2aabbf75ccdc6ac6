package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	JobNotificationRelease = "notification_release"
	JobDeletionRunReaper   = "deletion_run_reaper"
)

type Func func(ctx context.Context) error

type job struct {
	Type string
	Run  Func
}

type schedule struct {
	jobType  string
	interval time.Duration
	run      Func
}

// Service runs background jobs one at a time on a single worker. Scheduled
// jobs are enqueued by their own tickers; a tick that finds the queue full is
// dropped and the next one tries again.
type Service struct {
	queue     chan job
	schedules []schedule
	wg        sync.WaitGroup
}

func New() *Service {
	return &Service{queue: make(chan job, 128)}
}

// Every registers run to be enqueued each interval once Start is called. A
// non-positive interval leaves the job disabled.
func (s *Service) Every(jobType string, interval time.Duration, run Func) {
	if interval <= 0 {
		return
	}
	s.schedules = append(s.schedules, schedule{jobType: jobType, interval: interval, run: run})
}

func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx)
	}()
	for _, sched := range s.schedules {
		sched := sched
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick(ctx, sched)
		}()
	}
}

// Wait blocks until every goroutine started by Start has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Enqueue(ctx context.Context, jobType string, run Func) bool {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
		return true
	default:
		zerolog.Ctx(ctx).Warn().Str("job_type", jobType).Msg("job queue full")
		return false
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run Func) error {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			_ = s.runJob(ctx, j)
		}
	}
}

func (s *Service) tick(ctx context.Context, sched schedule) {
	ticker := time.NewTicker(sched.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Enqueue(ctx, sched.jobType, sched.run)
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) error {
	log := zerolog.Ctx(ctx).With().Str("job_type", j.Type).Logger()
	started := time.Now()
	err := j.Run(log.WithContext(ctx))
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(started)).Msg("job run failed")
		return err
	}
	log.Debug().Dur("duration", time.Since(started)).Msg("job run completed")
	return nil
}
