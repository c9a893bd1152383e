package status

import "github.com/hankb/hcsr04/internal/sensor"

// window is a fixed-capacity FIFO of the most recent readings.
// Not safe for concurrent use; callers synchronize.
type window struct {
	buf      []sensor.Reading
	capacity int
	head     int // next write position
	count    int
}

func newWindow(capacity int) *window {
	return &window{
		buf:      make([]sensor.Reading, capacity),
		capacity: capacity,
	}
}

func (w *window) push(r sensor.Reading) {
	if w.count == w.capacity {
		// Overwrite oldest: head is already pointing at it
		w.buf[w.head] = r
		w.head = (w.head + 1) % w.capacity
		return
	}
	w.buf[w.head] = r
	w.head = (w.head + 1) % w.capacity
	w.count++
}

// items returns the readings oldest first, without consuming them.
func (w *window) items() []sensor.Reading {
	if w.count == 0 {
		return nil
	}
	result := make([]sensor.Reading, w.count)
	// Oldest item is at (head - count) mod capacity
	start := (w.head - w.count + w.capacity) % w.capacity
	for i := 0; i < w.count; i++ {
		result[i] = w.buf[(start+i)%w.capacity]
	}
	return result
}

func (w *window) len() int {
	return w.count
}
