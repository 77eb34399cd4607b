package utils

import (
	"sync/atomic"
	"time"
)

var lastID atomic.Int64

// GenerateID 生成基于时间戳的ID（微秒，保证不超过 2^53）。同一微秒内递增，进程内不重复
func GenerateID() int64 {
	for {
		last := lastID.Load()
		next := time.Now().UnixMicro()
		if next <= last {
			next = last + 1
		}
		if lastID.CompareAndSwap(last, next) {
			return next
		}
	}
}
