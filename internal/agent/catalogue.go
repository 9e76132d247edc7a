package agent

import (
	"fmt"
	"strings"
)

// Service is one bookable offering in the catalogue.
type Service struct {
	ID              string  `yaml:"id" json:"id"`
	Name            string  `yaml:"name" json:"name"`
	Description     string  `yaml:"description" json:"description"`
	Price           float64 `yaml:"price" json:"price"`
	DurationMinutes int     `yaml:"duration_minutes" json:"durationMinutes"`
}

// DefaultServices is the catalogue used when the configuration supplies
// none.
var DefaultServices = []Service{
	{ID: "general-consultation", Name: "General Consultation", Description: "Routine check-up with a general practitioner", Price: 75, DurationMinutes: 30},
	{ID: "dental-cleaning", Name: "Dental Cleaning", Description: "Professional teeth cleaning and oral exam", Price: 120, DurationMinutes: 45},
	{ID: "physiotherapy", Name: "Physiotherapy Session", Description: "One-on-one physical therapy session", Price: 90, DurationMinutes: 60},
	{ID: "blood-test", Name: "Blood Test", Description: "Standard blood panel with lab analysis", Price: 55, DurationMinutes: 15},
	{ID: "vaccination", Name: "Vaccination", Description: "Routine and travel vaccinations", Price: 40, DurationMinutes: 15},
}

// Catalogue is the read-only service list plus a phonetic index for
// resolving service names out of noisy transcripts. Safe for concurrent use
// after construction.
type Catalogue struct {
	services []Service
	names    []string
	byName   map[string]Service
	matcher  *Matcher
}

// NewCatalogue builds a catalogue over services, falling back to
// DefaultServices when the list is empty.
func NewCatalogue(services []Service, opts ...MatcherOption) *Catalogue {
	if len(services) == 0 {
		services = DefaultServices
	}
	c := &Catalogue{
		services: services,
		names:    make([]string, 0, len(services)),
		byName:   make(map[string]Service, len(services)),
		matcher:  NewMatcher(opts...),
	}
	for _, s := range services {
		c.names = append(c.names, s.Name)
		c.byName[strings.ToLower(s.Name)] = s
	}
	return c
}

// Services returns the catalogue entries in configuration order.
func (c *Catalogue) Services() []Service {
	return c.services
}

// PromptSection renders the services as a bullet list for the system
// prompt.
func (c *Catalogue) PromptSection() string {
	var sb strings.Builder
	for _, s := range c.services {
		fmt.Fprintf(&sb, "- %s: %s ($%.0f, %d minutes)\n", s.Name, s.Description, s.Price, s.DurationMinutes)
	}
	return sb.String()
}

// Resolve scans a caller utterance for the service it most likely names.
// Transcripts mangle service names ("fizzy therapy" for "physiotherapy"),
// so matching is phonetic: every 1-3 word window of the utterance is scored
// against the catalogue names and the best accepted match wins.
func (c *Catalogue) Resolve(utterance string) (Service, float64, bool) {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(utterance)))
	if len(tokens) == 0 {
		return Service{}, 0, false
	}

	var (
		best      Service
		bestScore float64
		found     bool
	)
	for size := 1; size <= 3; size++ {
		for i := 0; i+size <= len(tokens); i++ {
			window := strings.Join(tokens[i:i+size], " ")
			name, score, ok := c.matcher.Match(window, c.names)
			if !ok || score <= bestScore {
				continue
			}
			if svc, exists := c.byName[strings.ToLower(name)]; exists {
				best = svc
				bestScore = score
				found = true
			}
		}
	}
	return best, bestScore, found
}
