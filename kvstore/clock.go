package kvstore

import "time"

// nowUnixNano is the single call site for "current time" that
// RueidisClient feeds into the atomic-increment script. The in-memory Fake
// does not use it; it reads time.Now directly.
func nowUnixNano() int64 {
	return time.Now().UnixNano()
}
