package schemas

// -- Device Fingerprint Schemas --

// Viewport is the emulated window size of a session.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// Geolocation is a spoofed position reported to the navigator.geolocation API.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// DeviceProfile bundles every client characteristic a session spoofs.
// Profiles are immutable values once assigned to an account or session.
type DeviceProfile struct {
	ID             string       `json:"id"`
	UserAgent      string       `json:"userAgent"`
	Viewport       Viewport     `json:"viewport"`
	Locale         string       `json:"locale"`
	AcceptLanguage string       `json:"acceptLanguage"`
	Timezone       string       `json:"timezoneId"`
	Platform       string       `json:"platform"`
	Geolocation    *Geolocation `json:"geolocation,omitempty"`
}

// Valid reports whether the profile carries enough data to drive a session.
func (p DeviceProfile) Valid() bool {
	return p.UserAgent != "" && p.Viewport.Width > 0 && p.Viewport.Height > 0
}

// Languages returns the ordered language list derived from the locale,
// e.g. "de-DE" yields ["de-DE", "de"].
func (p DeviceProfile) Languages() []string {
	if p.Locale == "" {
		return nil
	}
	langs := []string{p.Locale}
	for i := 0; i < len(p.Locale); i++ {
		if p.Locale[i] == '-' {
			langs = append(langs, p.Locale[:i])
			break
		}
	}
	return langs
}
