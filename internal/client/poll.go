package client

import (
	"context"
	"errors"
	"time"

	"maichart/internal/api"
	"maichart/internal/services"
)

// Outcome is how a poll ended.
type Outcome string

const (
	// OutcomeSuccess means the session completed.
	OutcomeSuccess Outcome = "success"
	// OutcomePending means the caller's context ended while the session was
	// still queued or processing.
	OutcomePending Outcome = "pending"
	// OutcomeTimedOut means every attempt was used without a terminal status.
	// Server-side work continues; a later poll may observe completion.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeFailed means the session errored or does not exist.
	OutcomeFailed Outcome = "failed"
)

// Policy bounds a poll loop.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	// Multiplier grows the interval after each attempt; values below 1 keep it
	// fixed.
	Multiplier  float64
	MaxInterval time.Duration
	// OnStatus, when set, sees every status read.
	OnStatus func(api.SessionStatus)
}

// DefaultPolicy polls once a second for two minutes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 120,
		Interval:    time.Second,
		Multiplier:  1,
		MaxInterval: 5 * time.Second,
	}
}

// PollResult is the typed result of Poll.
type PollResult struct {
	Outcome  Outcome            `json:"outcome"`
	Status   *api.SessionStatus `json:"status,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Attempts int                `json:"attempts"`
}

// Poll reads the session status until it is terminal, the attempts run out,
// or ctx ends. Transport failures and 5xx replies count as attempts and keep
// polling; a 404 ends the poll as failed.
func (c *Client) Poll(ctx context.Context, id string, policy Policy) PollResult {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultPolicy().Interval
	}

	var (
		result   PollResult
		interval = policy.Interval
	)
	for result.Attempts < policy.MaxAttempts {
		result.Attempts++
		status, err := c.Status(ctx, id)
		switch {
		case err == nil:
			result.Status = status
			result.Reason = ""
			if policy.OnStatus != nil {
				policy.OnStatus(*status)
			}
			switch status.Status {
			case "completed":
				result.Outcome = OutcomeSuccess
				return result
			case "error":
				result.Outcome = OutcomeFailed
				result.Reason = status.Error
				if result.Reason == "" {
					result.Reason = "processing failed"
				}
				return result
			}
		case ctx.Err() != nil:
			return pending(result, ctx.Err())
		case IsNotFound(err):
			result.Outcome = OutcomeFailed
			result.Reason = "session not found"
			return result
		case retryablePollError(err):
			result.Reason = services.Message(err)
		default:
			result.Outcome = OutcomeFailed
			result.Reason = services.Message(err)
			return result
		}

		if result.Attempts >= policy.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, interval); err != nil {
			return pending(result, err)
		}
		interval = nextInterval(interval, policy)
	}

	result.Outcome = OutcomeTimedOut
	if result.Reason == "" {
		result.Reason = "processing timed out"
	}
	return result
}

func pending(result PollResult, err error) PollResult {
	result.Outcome = OutcomePending
	result.Reason = err.Error()
	return result
}

func retryablePollError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return services.IsRetryable(err)
}

func nextInterval(current time.Duration, policy Policy) time.Duration {
	if policy.Multiplier > 1 {
		current = time.Duration(float64(current) * policy.Multiplier)
	}
	if policy.MaxInterval > 0 && current > policy.MaxInterval {
		current = policy.MaxInterval
	}
	return current
}
