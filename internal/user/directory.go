package user

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is the most bcrypt will hash.
const maxPasswordBytes = 72

// Directory is the identity service: registration, credential checks and
// profile edits on top of a Store.
type Directory struct {
	store    Store
	reserved string
	cost     int
	log      *slog.Logger
}

// NewDirectory creates a Directory. reserved is the bot identity nobody may
// register; it is compared case-insensitively.
func NewDirectory(store Store, reserved string, cost int, log *slog.Logger) *Directory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Directory{
		store:    store,
		reserved: reserved,
		cost:     cost,
		log:      log.With("component", "users"),
	}
}

// IsReserved reports whether username is the reserved bot identity.
func (d *Directory) IsReserved(username string) bool {
	return d.reserved != "" && strings.EqualFold(strings.TrimSpace(username), d.reserved)
}

// Register creates a new user with a bcrypt-hashed password.
func (d *Directory) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrCredentialsRequired
	}
	if d.IsReserved(username) {
		return ErrReservedName
	}
	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return err
	}
	if err := d.store.Create(ctx, &User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}); err != nil {
		return err
	}
	d.log.Info("user registered", "username", username)
	return nil
}

// Authenticate verifies a password against the stored hash. Unknown users and
// wrong passwords both yield ErrInvalidCredentials.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := d.store.Get(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Lookup returns the public profile of a user.
func (d *Directory) Lookup(ctx context.Context, username string) (Profile, error) {
	u, err := d.store.Get(ctx, username)
	if err != nil {
		return Profile{}, err
	}
	return u.profile(), nil
}

// HasProfilePicture is false for unknown users.
func (d *Directory) HasProfilePicture(ctx context.Context, username string) bool {
	u, err := d.store.Get(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.log.Warn("profile lookup failed", "username", username, "error", err)
		}
		return false
	}
	return u.HasPicture()
}

// SetProfilePicture stores raw image bytes. The content type is sniffed and
// must be an image.
func (d *Directory) SetProfilePicture(ctx context.Context, username string, data []byte) error {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return ErrNotAnImage
	}
	return d.store.Update(ctx, username, func(u *User) error {
		u.ProfilePicture = data
		u.ProfileContentType = mt.String()
		return nil
	})
}

// ProfilePicture returns the stored image and its content type.
func (d *Directory) ProfilePicture(ctx context.Context, username string) ([]byte, string, error) {
	u, err := d.store.Get(ctx, username)
	if err != nil {
		return nil, "", err
	}
	if !u.HasPicture() {
		return nil, "", ErrNoPicture
	}
	return u.ProfilePicture, u.ProfileContentType, nil
}

func (d *Directory) SetBio(ctx context.Context, username, bio string) error {
	return d.store.Update(ctx, username, func(u *User) error {
		u.Bio = bio
		return nil
	})
}

// Delete removes the registration record. The cascade into rooms, history
// and live connections is driven by the chat service.
func (d *Directory) Delete(ctx context.Context, username string) error {
	if err := d.store.Delete(ctx, username); err != nil {
		return err
	}
	d.log.Info("user deleted", "username", username)
	return nil
}
