package queue

import "time"

// Clock abstracts time so scheduling decisions can be tested without
// sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}
