//go:build !linux

package clock

import "time"

var epoch = time.Now()

type monotonic struct{}

func (monotonic) Now() time.Duration {
	return time.Since(epoch)
}

func (monotonic) Sleep(d time.Duration) {
	time.Sleep(d)
}
