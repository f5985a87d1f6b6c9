package obd

import "time"

// Clock is the timing source of a session. Sleep has to be precise: the
// wake-up patterns are measured by the ECU.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Poll step sizes. Short pulses need a finer step than settling delays.
const (
	pollStep = 10 * time.Millisecond
	fineStep = time.Millisecond
)

type systemClock struct {
	step time.Duration
}

// SystemClock sleeps in small increments and re-checks the monotonic clock
// instead of trusting a single long timer.
func SystemClock() Clock {
	return systemClock{step: fineStep}
}

func (c systemClock) Now() time.Time {
	return time.Now()
}

func (c systemClock) Sleep(d time.Duration) {
	pause(d, c.step)
}

func pause(d, step time.Duration) {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
		left := time.Until(end)
		if left < step {
			time.Sleep(left)
			continue
		}
		time.Sleep(step)
	}
}

// readWithin collects up to n bytes from t, polling the non-blocking read
// every pollStep until n bytes arrived or timeout elapsed. It returns what
// was collected, which may be short.
func readWithin(t Transport, c Clock, n int, timeout time.Duration) ([]byte, error) {
	data := make([]byte, 0, n)
	buf := make([]byte, n)
	start := c.Now()
	for {
		m, err := t.Read(buf[:n-len(data)])
		if err != nil {
			return data, err
		}
		data = append(data, buf[:m]...)
		if len(data) >= n {
			return data, nil
		}
		if c.Now().Sub(start) > timeout {
			return data, nil
		}
		c.Sleep(pollStep)
	}
}
