package common

import "time"

// MaxStreamRetries bounds websocket reconnect attempts before a stream gives up.
const MaxStreamRetries = 5

// BackoffDelay returns the reconnect delay for the given attempt:
// 2^min(retry,5) seconds, so 1s, 2s, 4s, 8s, 16s, then capped at 32s.
func BackoffDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	exp := retry
	if exp > 5 {
		exp = 5
	}
	return time.Duration(1<<uint(exp)) * time.Second
}
