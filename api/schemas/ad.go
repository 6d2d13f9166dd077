package schemas

import (
	"strings"
	"time"
)

// AdContent is one listing submission.
type AdContent struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       string   `json:"price"`
	PostalCode  string   `json:"postalCode,omitempty"`
	CategoryID  string   `json:"categoryId,omitempty"`
	CategoryURL string   `json:"categoryUrl,omitempty"`
	ImagePaths  []string `json:"images,omitempty"`
}

// HasCategory reports whether a concrete category reference is present.
func (a AdContent) HasCategory() bool {
	return strings.TrimSpace(a.CategoryID) != "" || strings.TrimSpace(a.CategoryURL) != ""
}

// Verdict records which detection path produced a publish outcome.
type Verdict string

const (
	VerdictNone Verdict = "none"
	// VerdictConfirmed comes from an explicit success state on the form target.
	VerdictConfirmed Verdict = "confirmed"
	// VerdictConfirmedSubframe comes from an explicit success state found in another frame.
	VerdictConfirmedSubframe Verdict = "confirmed-subframe"
	// VerdictInferred is the heuristic fallback built from indirect signals.
	VerdictInferred Verdict = "inferred"
)

// PublishResult is returned once per publish attempt.
type PublishResult struct {
	Success             bool      `json:"success"`
	Message             string    `json:"message,omitempty"`
	Error               string    `json:"error,omitempty"`
	ErrorKind           ErrorKind `json:"errorKind,omitempty"`
	URL                 string    `json:"url,omitempty"`
	Verdict             Verdict   `json:"verdict"`
	MissingFields       []string  `json:"missingFields,omitempty"`
	FormErrors          []string  `json:"formErrors,omitempty"`
	RetriedWithoutProxy bool      `json:"retriedWithoutProxy,omitempty"`
}

// AdStatus is the remote status of a listing.
type AdStatus string

const (
	AdActive   AdStatus = "Aktiv"
	AdReserved AdStatus = "Reserviert"
	AdDeleted  AdStatus = "Gelöscht"
)

// Ad is a stored listing record used for reconciliation.
type Ad struct {
	AccountID string    `json:"accountId"`
	Title     string    `json:"title"`
	Price     string    `json:"price"`
	URL       string    `json:"url,omitempty"`
	Image     string    `json:"image,omitempty"`
	Status    AdStatus  `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key is the store key of an ad: accountID-title-price, with the price
// reduced by NormalizePrice so "50" and "50 €" name the same listing.
func (a Ad) Key() string {
	return a.AccountID + "-" + strings.TrimSpace(a.Title) + "-" + NormalizePrice(a.Price)
}

// NormalizePrice reduces a displayed price to its digits. Zero cents after a
// decimal comma are dropped, so "1.200 €", "1200" and "1.200,00 €" agree,
// while "12,50" keeps its cents. A price without digits, such as "VB", is
// returned trimmed and lower-cased.
func NormalizePrice(price string) string {
	p := strings.TrimSpace(price)
	whole := p
	if i := strings.LastIndexByte(p, ','); i >= 0 && strings.Trim(digitsOf(p[i+1:]), "0") == "" {
		whole = p[:i]
	}
	if d := digitsOf(whole); d != "" {
		return d
	}
	return strings.ToLower(p)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
