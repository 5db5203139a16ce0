package model

import (
	"time"

	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/guregu/null.v3"
)

// BCryptCost is the work factor for stored password hashes.
var BCryptCost = bcrypt.DefaultCost

// Roles carried in session tokens.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User corresponds to a row in the "users" DB table.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64       `bun:"id,pk,autoincrement" json:"-"`
	UserID       string      `bun:"user_id,notnull" json:"userId"`
	Name         string      `bun:"name,notnull" json:"name"`
	PasswordHash null.String `bun:"password_hash" json:"-"`
	AdminPriv    bool        `bun:"admin_priv,notnull" json:"adminPriv"`
	Created      time.Time   `bun:"created,nullzero,notnull,default:current_timestamp" json:"created"`
	LastModified time.Time   `bun:"last_modified,nullzero,notnull,default:current_timestamp" json:"lastModified"`
}

// Role is the token role for the user's privilege level.
func (user User) Role() string {
	if user.AdminPriv {
		return RoleAdmin
	}
	return RoleUser
}

// ValidatePassword checks that the supplied password is correct.
func (user User) ValidatePassword(password string) bool {
	if !user.PasswordHash.Valid || password == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword(
		[]byte(user.PasswordHash.ValueOrZero()),
		[]byte(password))
	return err == nil
}

// UpdatePasswordHash replaces the stored hash with a bcrypt hash of password.
func (user *User) UpdatePasswordHash(password string) error {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), BCryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = null.StringFrom(string(passwordHash))
	return nil
}
