// Package clock abstracts time so background loops can be tested with
// virtual time instead of sleeping.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually-advanced clock for tests.
type Fake struct {
	Time time.Time
}

func NewFake(t time.Time) *Fake { return &Fake{Time: t} }

func (f *Fake) Now() time.Time { return f.Time }

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) { f.Time = f.Time.Add(d) }
