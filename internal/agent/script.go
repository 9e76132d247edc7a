// Package agent holds the conversational persona of the receptionist: the
// scripted lines spoken outside the language model (greeting, farewell,
// error apologies), the system prompt handed to reasoning providers, and the
// end-of-call phrase detector.
package agent

import (
	"fmt"
	"strings"
)

// Default scripted lines. Anything left empty in a configured Script falls
// back to these.
const (
	defaultOrgName = "the clinic"

	defaultFarewell     = "Thank you for calling. Have a great day!"
	defaultApology      = "I apologize, I'm having technical difficulties. Please try again."
	defaultRepeatPrompt = "I'm sorry, I didn't catch that. Could you say it again?"
)

// defaultEndPhrases are substrings of a caller turn that signal the caller
// is done. Matching is case-insensitive on the whole utterance.
var defaultEndPhrases = []string{
	"goodbye",
	"bye",
	"thank you",
	"thanks",
	"that's all",
	"that is all",
	"no more",
	"nothing else",
	"see you",
	"take care",
	"have a good day",
	"hang up",
	"end call",
}

// Script is the agent's fixed conversational frame. The zero value is
// usable; WithDefaults fills in every empty field.
type Script struct {
	// OrgName is the organization the agent answers for, woven into the
	// default greeting and system prompt.
	OrgName string

	// Greeting is spoken when a session starts, before any caller turn.
	Greeting string

	// Farewell is spoken before the agent hangs up.
	Farewell string

	// Apology is spoken when reasoning fails and the turn must be abandoned.
	Apology string

	// RepeatPrompt is spoken when transcription fails and the caller should
	// try the turn again.
	RepeatPrompt string

	// Instructions is appended verbatim to the system prompt, letting
	// deployments tune the persona without rebuilding.
	Instructions string

	// EndPhrases overrides the built-in end-of-call phrase list when
	// non-empty.
	EndPhrases []string
}

// WithDefaults returns a copy of s with every empty field replaced by its
// default.
func (s Script) WithDefaults() Script {
	if s.OrgName == "" {
		s.OrgName = defaultOrgName
	}
	if s.Greeting == "" {
		s.Greeting = fmt.Sprintf(
			"Hello, thank you for calling %s. I'm an AI assistant. I can help you schedule appointments and answer questions about our services. How can I assist you today?",
			s.OrgName)
	}
	if s.Farewell == "" {
		s.Farewell = defaultFarewell
	}
	if s.Apology == "" {
		s.Apology = defaultApology
	}
	if s.RepeatPrompt == "" {
		s.RepeatPrompt = defaultRepeatPrompt
	}
	if len(s.EndPhrases) == 0 {
		s.EndPhrases = defaultEndPhrases
	}
	return s
}

// ShouldEndCall reports whether the caller's utterance contains one of the
// end-of-call phrases.
func (s Script) ShouldEndCall(utterance string) bool {
	u := strings.ToLower(strings.TrimSpace(utterance))
	if u == "" {
		return false
	}
	for _, phrase := range s.EndPhrases {
		if strings.Contains(u, phrase) {
			return true
		}
	}
	return false
}

// SystemPrompt builds the system prompt for reasoning providers. The
// catalogue's services are listed so the model can answer questions about
// them; cat may be nil.
func (s Script) SystemPrompt(cat *Catalogue) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a professional and friendly receptionist AI for %s.\n\n", s.OrgName)
	sb.WriteString(`Your role:
- Greet callers warmly and professionally
- Help schedule appointments
- Answer questions about available services
- Collect caller information (name, date of birth)
- Confirm appointment details clearly

`)

	sb.WriteString("Available Services:\n")
	if cat == nil || len(cat.Services()) == 0 {
		sb.WriteString("No services available at this time.\n")
	} else {
		sb.WriteString(cat.PromptSection())
	}

	sb.WriteString(`
IMPORTANT SAFETY RULES:
1. You CANNOT provide medical diagnosis or advice
2. You CANNOT prescribe medications
3. If a caller describes emergency symptoms (chest pain, difficulty breathing, severe bleeding, etc.), immediately suggest: "Please call 911 or go to the nearest emergency room immediately. This requires urgent medical attention."
4. Always be calm, professional, and empathetic
5. Ask one question at a time
6. Confirm all details (name, appointment date/time) slowly and clearly

Conversation Guidelines:
- Keep responses concise (1-2 sentences)
- Use natural, conversational language
- If the caller mentions health concerns, listen but do NOT diagnose
- Suggest appropriate services based on their needs
- Always offer to book an appointment

Respond naturally as a receptionist would in a phone conversation.`)

	if s.Instructions != "" {
		sb.WriteString("\n\n")
		sb.WriteString(s.Instructions)
	}
	return sb.String()
}
