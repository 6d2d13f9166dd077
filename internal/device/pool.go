// Package device holds the fixed catalog of browser fingerprints sessions draw from.
package device

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

var berlin = &schemas.Geolocation{Latitude: 52.520008, Longitude: 13.404954, Accuracy: 50}

const germanAcceptLanguage = "de-DE,de;q=0.9,en;q=0.8"

// DefaultProfiles is the built-in catalog.
var DefaultProfiles = []schemas.DeviceProfile{
	{
		ID:             "de-win-chrome",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		Viewport:       schemas.Viewport{Width: 1366, Height: 768},
		Locale:         "de-DE",
		AcceptLanguage: germanAcceptLanguage,
		Timezone:       "Europe/Berlin",
		Platform:       "Win32",
		Geolocation:    berlin,
	},
	{
		ID:             "de-mac-chrome",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		Viewport:       schemas.Viewport{Width: 1440, Height: 900},
		Locale:         "de-DE",
		AcceptLanguage: germanAcceptLanguage,
		Timezone:       "Europe/Berlin",
		Platform:       "MacIntel",
		Geolocation:    berlin,
	},
	{
		ID:             "de-win-firefox",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
		Viewport:       schemas.Viewport{Width: 1536, Height: 864},
		Locale:         "de-DE",
		AcceptLanguage: germanAcceptLanguage,
		Timezone:       "Europe/Berlin",
		Platform:       "Win32",
		Geolocation:    berlin,
	},
}

// Pool selects device profiles. It is safe for concurrent use.
type Pool struct {
	profiles []schemas.DeviceProfile
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewPool creates a pool over profiles. A nil rng seeds from the clock;
// an empty catalog falls back to DefaultProfiles.
func NewPool(profiles []schemas.DeviceProfile, rng *rand.Rand) *Pool {
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	cp := make([]schemas.DeviceProfile, len(profiles))
	copy(cp, profiles)
	return &Pool{profiles: cp, rng: rng}
}

// Pick returns a random profile from the catalog.
func (p *Pool) Pick() schemas.DeviceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profiles[p.rng.Intn(len(p.profiles))]
}

// Resolve keeps a previously assigned profile so repeated use of one account
// presents the same fingerprint. Invalid assignments fall back to Pick.
func (p *Pool) Resolve(assigned *schemas.DeviceProfile) schemas.DeviceProfile {
	if assigned != nil && assigned.Valid() {
		return *assigned
	}
	return p.Pick()
}

// ResolveJSON is Resolve for a profile stored as serialized JSON.
func (p *Pool) ResolveJSON(raw []byte) schemas.DeviceProfile {
	if len(raw) == 0 {
		return p.Pick()
	}
	var profile schemas.DeviceProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return p.Pick()
	}
	return p.Resolve(&profile)
}

// ByID finds a catalog profile by its identifier.
func (p *Pool) ByID(id string) (schemas.DeviceProfile, bool) {
	for _, profile := range p.profiles {
		if profile.ID == id {
			return profile, true
		}
	}
	return schemas.DeviceProfile{}, false
}

// All returns a copy of the catalog.
func (p *Pool) All() []schemas.DeviceProfile {
	out := make([]schemas.DeviceProfile, len(p.profiles))
	copy(out, p.profiles)
	return out
}
