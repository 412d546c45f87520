package models

// Role constants for console users
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is the backend's view of the signed-in account
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// IsAdmin reports whether the user holds the admin role
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of POST /api/auth/register
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required,max=64"`
}

// RefreshRequest is the body of POST /api/auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ProfileUpdate is the body of PUT /api/auth/me
// Empty fields are omitted when forwarded to the backend
type ProfileUpdate struct {
	Name            string `json:"name,omitempty" validate:"omitempty,max=64"`
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	CurrentPassword string `json:"currentPassword,omitempty"`
	NewPassword     string `json:"newPassword,omitempty" validate:"omitempty,min=6"`
}

// AuthResult is the backend's response to login, signup and refresh
type AuthResult struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	User         *User  `json:"user,omitempty"`
}
