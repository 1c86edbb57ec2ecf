package scheduler

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"leadflow_backend/internal/metrics"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Sweeper clears waiting confirmations that passed their deadline.
type Sweeper interface {
	ExpireWaitingStates(ctx context.Context) (int64, error)
}

// Digester mails the pending review backlog.
type Digester interface {
	SendDigest(ctx context.Context) error
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	sweeper  Sweeper
	digester Digester
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sweeper Sweeper, digester Digester, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		sweeper:  sweeper,
		digester: digester,
		log:      log,
	}

	mux.HandleFunc(TaskWaitingSweep, w.handleWaitingSweep)
	mux.HandleFunc(TaskReviewDigest, w.handleReviewDigest)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleWaitingSweep(ctx context.Context, _ *asynq.Task) error {
	expired, err := w.sweeper.ExpireWaitingStates(ctx)
	if err != nil {
		return fmt.Errorf("expire waiting states: %w", err)
	}

	if expired > 0 {
		metrics.WaitingStatesExpired.Add(float64(expired))
		w.log.Info("waiting sweep cleared expired confirmations", "expired", expired)
	}
	return nil
}

func (w *Worker) handleReviewDigest(ctx context.Context, _ *asynq.Task) error {
	if w.digester == nil {
		return nil
	}
	return w.digester.SendDigest(ctx)
}
