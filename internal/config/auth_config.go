package config

import "github.com/modelzoo/modelzoo/pkg/check"

// DefaultAuthConfig returns the default session settings.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Algorithm:            "HS256",
		AccessTokenMinutes:   30,
		RefreshTokenDays:     30,
		FirstSuperuserID:     "",
		FirstSuperuserName:   "Root",
		CSRFTokenMaxAgeHours: 1,
	}
}

// AuthConfig hosts the session and bootstrap account settings.
type AuthConfig struct {
	SecretKey              string `json:"secret_key"`
	Algorithm              string `json:"algorithm"`
	AccessTokenMinutes     int    `json:"access_token_minutes"`
	RefreshTokenDays       int    `json:"refresh_token_days"`
	CSRFTokenMaxAgeHours   int    `json:"csrf_token_max_age_hours"`
	SecureCookies          *bool  `json:"secure_cookies"`
	FirstSuperuserID       string `json:"first_superuser_id"`
	FirstSuperuserName     string `json:"first_superuser_name"`
	FirstSuperuserPassword string `json:"first_superuser_password"`
}

// Validate implements the check.Validatable interface.
func (c AuthConfig) Validate() []error {
	return []error{
		check.In(c.Algorithm, []string{"HS256"}, "auth algorithm"),
		check.True(c.AccessTokenMinutes > 0, "access_token_minutes must be positive"),
		check.True(c.RefreshTokenDays > 0, "refresh_token_days must be positive"),
		check.True(c.CSRFTokenMaxAgeHours > 0, "csrf_token_max_age_hours must be positive"),
		check.True(c.FirstSuperuserID == "" || c.FirstSuperuserPassword != "",
			"first_superuser_password is required with first_superuser_id"),
	}
}
