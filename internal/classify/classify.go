// Package classify maps dialog text to semantic event types and filters out
// repeated or noisy observations.
package classify

import (
	"regexp"
	"strings"
)

// EventType is the semantic meaning of one dialog screen.
type EventType string

const (
	EventDialing       EventType = "DIALING"
	EventPINPrompt     EventType = "PIN_PROMPT"
	EventMenu          EventType = "MENU"
	EventInputRequired EventType = "INPUT_REQUIRED"
	EventWelcome       EventType = "WELCOME"
	EventSuccess       EventType = "SUCCESS"
	EventError         EventType = "ERROR"
	EventGeneral       EventType = "GENERAL"
)

// Event is one classified observation. It is never mutated after
// construction.
type Event struct {
	Type      EventType
	RawText   string
	SessionID string
}

// Rule matches lower-cased text against a set of keywords.
type Rule struct {
	Type     EventType
	Keywords []string
	// Pattern, when set, is tried against the original (not lower-cased)
	// text in addition to the keywords.
	Pattern *regexp.Regexp
}

func (r Rule) match(raw, lower string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return r.Pattern != nil && r.Pattern.MatchString(raw)
}

// shortCodePattern matches a dialed USSD short code such as *219# or
// *144*1#.
var shortCodePattern = regexp.MustCompile(`\*\d+(\*\d+)*#`)

// Classifier evaluates an ordered rule list; the first matching rule wins.
// The zero value classifies everything as EventGeneral.
type Classifier struct {
	rules []Rule
}

// DefaultRules returns the priority-ordered rule table. Dialing banners come
// first because they often carry menu-like boilerplate, and PIN prompts
// outrank generic "enter" prompts.
func DefaultRules() []Rule {
	return []Rule{
		{Type: EventDialing, Keywords: []string{"dialing", "calling", "connecting"}, Pattern: shortCodePattern},
		{Type: EventPINPrompt, Keywords: []string{"pin", "password"}},
		{Type: EventMenu, Keywords: []string{"menu", "select", "option"}},
		{Type: EventInputRequired, Keywords: []string{"enter", "input"}},
		{Type: EventWelcome, Keywords: []string{"welcome"}},
		{Type: EventSuccess, Keywords: []string{"success", "completed", "thank"}},
		{Type: EventError, Keywords: []string{"error", "invalid"}},
	}
}

// New returns a Classifier over rules, evaluated in order.
func New(rules []Rule) Classifier {
	return Classifier{rules: append([]Rule(nil), rules...)}
}

// WithShortCode returns a Classifier using the default rules where the
// dialing rule matches only the given short code literally instead of any
// short code.
func WithShortCode(code string) Classifier {
	rules := DefaultRules()
	if code = strings.TrimSpace(code); code != "" {
		rules[0].Pattern = regexp.MustCompile(regexp.QuoteMeta(code))
	}
	return New(rules)
}

// Classify returns the type of the first rule matching text.
func (c Classifier) Classify(text string) EventType {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		if r.match(text, lower) {
			return r.Type
		}
	}
	return EventGeneral
}

// Observe classifies text seen by sessionID and returns the resulting Event.
func (c Classifier) Observe(sessionID, text string) Event {
	return Event{Type: c.Classify(text), RawText: text, SessionID: sessionID}
}

var defaultClassifier = New(DefaultRules())

// Classify classifies text with the default rule table.
func Classify(text string) EventType {
	return defaultClassifier.Classify(text)
}
