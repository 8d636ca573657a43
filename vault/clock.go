package vault

import "time"

// Clock abstracts time for idle-timeout, lockout and TOTP accounting.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
