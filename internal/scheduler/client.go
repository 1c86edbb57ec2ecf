// Package scheduler runs the periodic maintenance work of the engine over
// asynq: sweeping expired waiting confirmations and mailing the review
// digest. The Client enqueues tasks on an interval; the Worker consumes
// them, so several API replicas can share one queue without duplicate work.
package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

const (
	defaultSweepInterval  = time.Minute
	defaultDigestInterval = time.Hour
)

type Client struct {
	client         *asynq.Client
	queue          string
	sweepInterval  time.Duration
	digestInterval time.Duration
	log            *logger.Logger
}

func NewClient(cfg config.SchedulerConfig, log *logger.Logger) (*Client, error) {
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

	sweep := cfg.GetSweepInterval()
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	digest := cfg.GetDigestInterval()
	if digest <= 0 {
		digest = defaultDigestInterval
	}

	return &Client{
		client:         asynq.NewClient(opt),
		queue:          queue,
		sweepInterval:  sweep,
		digestInterval: digest,
		log:            log,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Run enqueues the periodic tasks until the context is canceled.
func (c *Client) Run(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}

	sweepTicker := time.NewTicker(c.sweepInterval)
	defer sweepTicker.Stop()
	digestTicker := time.NewTicker(c.digestInterval)
	defer digestTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			c.enqueueSweep(ctx)
		case <-digestTicker.C:
			c.enqueueDigest(ctx)
		}
	}
}

func (c *Client) enqueueSweep(ctx context.Context) {
	task, err := NewWaitingSweepTask(time.Now())
	if err != nil {
		c.log.Warn("build sweep task", "error", err)
		return
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue)); err != nil {
		c.log.Warn("enqueue sweep task", "error", err)
	}
}

func (c *Client) enqueueDigest(ctx context.Context) {
	task, err := NewReviewDigestTask(time.Now())
	if err != nil {
		c.log.Warn("build digest task", "error", err)
		return
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue)); err != nil {
		c.log.Warn("enqueue digest task", "error", err)
	}
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
