package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the number of goroutines exceeds threshold,
// which usually means goroutines are leaking.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GaugeCheck fails when value() exceeds limit. It suits queues and other
// in-flight counters that should drain on their own.
func GaugeCheck(what string, value func() int64, limit int64) CheckFunc {
	return func(context.Context) error {
		if v := value(); v > limit {
			return errors.Errorf("%s %d exceeds limit %d", what, v, limit)
		}
		return nil
	}
}
