package user

import "time"

// User is a registered account. Username is the storage key.
type User struct {
	ID                 string    `json:"user_id"`
	Username           string    `json:"username"`
	PasswordCredential string    `json:"password_credential"`
	CreatedAt          time.Time `json:"created_at"`
}
