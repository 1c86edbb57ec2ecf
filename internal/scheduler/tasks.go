package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskWaitingSweep = "engine.waiting.sweep"

const TaskReviewDigest = "engine.review.digest"

type sweepPayload struct {
	RequestedAt time.Time `json:"requestedAt"`
}

type digestPayload struct {
	RequestedAt time.Time `json:"requestedAt"`
}

func NewWaitingSweepTask(requestedAt time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(sweepPayload{RequestedAt: requestedAt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWaitingSweep, data), nil
}

func NewReviewDigestTask(requestedAt time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(digestPayload{RequestedAt: requestedAt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReviewDigest, data), nil
}
