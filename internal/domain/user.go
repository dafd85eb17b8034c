package domain

import "time"

// Roles recognised in JWT claims.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is the directory record the pipeline resolves recipients from.
// Account lifecycle (registration, auth) is owned elsewhere; this service
// only reads it.
type User struct {
	UserID      string    `json:"id" dynamodbav:"user_id"`
	Email       string    `json:"email" dynamodbav:"email"`
	Phone       string    `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	FirstName   string    `json:"first_name" dynamodbav:"first_name"`
	LastName    string    `json:"last_name" dynamodbav:"last_name"`
	DisplayName string    `json:"display_name" dynamodbav:"display_name"`
	Enable      int       `json:"enable" dynamodbav:"enable"`
	CreatedAt   time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated" dynamodbav:"updated_at"`
}

// Name returns the best human-readable name for the user.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.FirstName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Email
}
