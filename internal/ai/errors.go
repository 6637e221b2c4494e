package ai

import "errors"

var (
	// ErrContentBlocked marks a content-safety refusal, distinguishable
	// from generic provider failures.
	ErrContentBlocked = errors.New("ai: content blocked by safety filter")

	ErrEmptyResponse = errors.New("ai: provider returned empty response")
)
