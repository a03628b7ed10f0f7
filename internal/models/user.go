package models

import "time"

// User is the read-only identity view this subsystem consumes. Accounts
// are owned by the platform's user service; MFA only needs id, email,
// role, and the account age for grace-period math.
type User struct {
	ID        string
	Email     string
	Role      string
	CreatedAt time.Time
}
