package schemas

import "time"

// AccountStatus is the last known authentication state of an account.
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountInvalid AccountStatus = "invalid"
	AccountUnknown AccountStatus = "unknown"
)

// Profile is the display identity scraped from the marketplace.
type Profile struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Account binds one imported cookie set to its fingerprint and routing.
type Account struct {
	ID            string        `json:"id"`
	Label         string        `json:"label"`
	Cookies       string        `json:"cookies"`
	DeviceProfile DeviceProfile `json:"deviceProfile"`
	ProxyID       string        `json:"proxyId,omitempty"`
	Status        AccountStatus `json:"status"`
	Profile       Profile       `json:"profile"`
	LastCheck     *time.Time    `json:"lastCheck,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// ValidationResult is the outcome of replaying a cookie set.
type ValidationResult struct {
	Valid     bool      `json:"valid"`
	Reason    string    `json:"reason,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Profile   *Profile  `json:"profile,omitempty"`
	// DeviceProfile echoes the fingerprint used, so callers can persist it.
	DeviceProfile DeviceProfile `json:"deviceProfile"`
	// RetriedWithoutProxy is set when the proxied attempt hit a tunnel failure.
	RetriedWithoutProxy bool `json:"retriedWithoutProxy,omitempty"`
}
