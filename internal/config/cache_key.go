package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ProgressFallbackKey returns the key holding a journey snapshot that could
// not be written remotely.
func (r *CacheKeyStruct) ProgressFallbackKey(userID, assignmentID string) string {
	return fmt.Sprintf("progress_%s_%s", userID, assignmentID)
}

// AssignmentMonitorChannel returns the Redis PubSub channel for live journey events.
func (r *CacheKeyStruct) AssignmentMonitorChannel(assignmentID string) string {
	return fmt.Sprintf("assignment:%s:monitor", assignmentID)
}

// AuthRateLimitKey returns the counter key for auth requests from one client.
func (r *CacheKeyStruct) AuthRateLimitKey(clientIP string) string {
	return fmt.Sprintf("ratelimit:auth:%s", clientIP)
}

var CacheKey = NewCacheKeyStruct()
