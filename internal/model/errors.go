package model

import (
	"errors"
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrWebhookDelivery   = errors.New("webhook delivery failed")
)
