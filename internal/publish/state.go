// Package publish drives a filled ad form to a terminal state and decides,
// from what the page shows afterwards, whether the listing went online.
package publish

import "strings"

// State is the phase of the publish flow as seen from the page.
type State string

const (
	StateForm    State = "form"
	StatePreview State = "preview"
	StateSuccess State = "success"
	StateUnknown State = "unknown"
)

// Snapshot is what the page shows at one instant.
type Snapshot struct {
	URL  string
	Text string
	// Confirmed is set when a confirmation element with text is visible.
	Confirmed bool
	Errors    []string
}

var (
	successFragments = []string{
		"p-anzeige-aufgeben-bestaetigung",
		"anzeige-aufgeben-bestaetigung",
		"anzeige-aufgeben-schritt3",
		"anzeige-aufgeben-schritt4",
		"anzeige-aufgeben-danke",
		"anzeige-aufgeben-abschliessen",
		"meine-anzeigen",
	}
	successPhrases = []string{
		"Anzeige wird aufgegeben",
		"Anzeige wurde erstellt",
		"Anzeige ist online",
		"Anzeige wurde erfolgreich",
		"Anzeige wurde veröffentlicht",
		"Vielen Dank",
		"Danke",
	}
	// successHints are the looser phrases the heuristic accepts.
	successHints = []string{"Anzeige wurde", "Anzeige ist online", "Vielen Dank", "Danke"}
)

// Classify maps a snapshot to a state. Success wins over every other signal.
func Classify(s Snapshot) State {
	u := strings.ToLower(s.URL)
	switch {
	case s.Confirmed || containsAny(u, successFragments) || containsAny(s.Text, successPhrases):
		return StateSuccess
	case strings.Contains(u, "vorschau") || strings.Contains(s.Text, "Vorschau"):
		return StatePreview
	case strings.Contains(u, "anzeige-aufgeben"):
		return StateForm
	}
	return StateUnknown
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
