package token

import "time"

const (
	DefaultScope         = "GIGACHAT_API_PERS"
	DefaultTokenURL      = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultLifetime      = 30 * time.Minute
	DefaultRefreshBuffer = 5 * time.Minute
	DefaultTimeout       = 20 * time.Second
)

// Credential is a short-lived bearer token. It is replaced as a whole, never
// updated in place.
type Credential struct {
	Value     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Scope     string    `json:"scope"`
}

// RefreshDue reports whether less than buffer remains before expiry at now.
func (c Credential) RefreshDue(now time.Time, buffer time.Duration) bool {
	if c.Value == "" {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-buffer))
}

// Preview returns a masked form of the token safe for logs and CLI output.
func (c Credential) Preview() string {
	return Mask(c.Value)
}

// Mask keeps the first and last four characters of s.
func Mask(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 12 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
