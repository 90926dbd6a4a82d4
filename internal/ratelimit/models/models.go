package models

import (
	"time"
)

// RateLimitResult is the outcome of one limiter check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds; set when Allowed is false
}

// RateLimitExceededResponse is the 429 body.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// NewUserKey scopes a bucket to one user and operation.
func NewUserKey(scope, userID string) string {
	return "rl:" + scope + ":user:" + userID
}

// NewIPKey scopes a bucket to one client address.
func NewIPKey(scope, ip string) string {
	return "rl:" + scope + ":ip:" + ip
}
