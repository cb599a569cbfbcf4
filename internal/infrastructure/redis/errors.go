package redis

import "errors"

var errNotConfigured = errors.New("redis client not configured")
