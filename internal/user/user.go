package user

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is wrapped by every error caused by bad caller input.
	ErrValidation = errors.New("validation error")

	ErrCredentialsRequired = fmt.Errorf("%w: Username and password are required", ErrValidation)
	ErrUsernameTaken       = fmt.Errorf("%w: Username taken", ErrValidation)
	ErrReservedName        = fmt.Errorf("%w: Username is reserved", ErrValidation)
	ErrNotAnImage          = fmt.Errorf("%w: Profile picture must be an image", ErrValidation)
	ErrPasswordTooLong     = fmt.Errorf("%w: Password is too long", ErrValidation)

	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrNotFound           = errors.New("user not found")
	ErrNoPicture          = errors.New("no profile picture")
)

// User is a registration record. Passwords are only ever stored hashed.
type User struct {
	Username           string    `json:"username"`
	PasswordHash       string    `json:"password_hash"`
	ProfilePicture     []byte    `json:"profile_picture,omitempty"`
	ProfileContentType string    `json:"profile_content_type,omitempty"`
	Bio                string    `json:"bio"`
	CreatedAt          time.Time `json:"created_at"`
}

// Profile is the public view of a user.
type Profile struct {
	Username          string `json:"username"`
	Bio               string `json:"bio"`
	HasProfilePicture bool   `json:"hasProfilePicture"`
}

// HasPicture reports whether a profile picture was uploaded.
func (u *User) HasPicture() bool {
	return len(u.ProfilePicture) > 0
}

func (u *User) profile() Profile {
	return Profile{Username: u.Username, Bio: u.Bio, HasProfilePicture: u.HasPicture()}
}

func (u *User) clone() *User {
	c := *u
	c.ProfilePicture = append([]byte(nil), u.ProfilePicture...)
	return &c
}
