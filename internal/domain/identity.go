// Package domain contains entity without logic, just meta-data
package domain

type (
	UserID string
	Role   string
)

const (
	RoleUser       Role = "user"
	RoleSpecialist Role = "specialist"
)

// Identity is what a verified access token resolves to. It is attached to a
// connection at handshake time and never changes afterwards.
type Identity struct {
	UserID UserID `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}
