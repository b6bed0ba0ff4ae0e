// Package composer implements the Prompt Composer: a pure function from a
// call's logical state, language, payload, and attempt index to the text
// (and optional pre-hosted audio) to play plus input constraints.
package composer

import (
	"fmt"
	"strings"

	"github.com/jkindrix/ivrengine/internal/callstate"
)

// Input holds input constraints for a gather turn. Its absence in a Prompt
// means the prompt is terminal (play-and-hangup).
type Input struct {
	MaxDigits     int
	FinishOnKey   string
	TimeoutSeconds int
}

// Prompt is the Composer's output: what to say/play and, if present, how to
// gather the next digit.
type Prompt struct {
	Text         string
	AudioURL     string
	Input        *Input
	VoiceHint    string
	RepeatPrompt *Prompt
}

// maxItemsListed caps how many order items are spoken before collapsing the
// remainder into "and N more", keeping utterances under ~25 seconds.
const maxItemsListed = 3

// Composer renders Prompts from language-specific template tables.
type Composer struct {
	defaultLanguage string
}

// New creates a Composer. defaultLanguage is used when a call's language has
// no registered template table.
func New(defaultLanguage string) *Composer {
	return &Composer{defaultLanguage: defaultLanguage}
}

// Compose renders the Prompt for the given logical state.
func (c *Composer) Compose(state callstate.LogicalState, language string, payload callstate.Payload, collected map[string]any, attemptIndex int) Prompt {
	tmpl, ok := templates[language]
	if !ok {
		tmpl = templates[c.defaultLanguage]
	}

	switch state {
	case callstate.StateGreeting:
		return c.greeting(tmpl, payload)
	case callstate.StatePrepTimeInquiry:
		return c.prepTimeInquiry(tmpl)
	case callstate.StateRejectionReason:
		return c.rejectionReason(tmpl)
	case callstate.StateGoodbyeAccepted:
		prepMinutes, _ := collected["prep_minutes"].(int)
		if prepMinutes == 0 {
			prepMinutes = 30
		}
		return c.goodbyeAccepted(tmpl, prepMinutes)
	case callstate.StateGoodbyeRejected:
		return c.goodbyeRejected(tmpl)
	case callstate.StateGoodbyeNoResponse:
		return c.goodbyeNoResponse(tmpl)
	default:
		return c.goodbyeNoResponse(tmpl)
	}
}

// NoInputRetry renders the repeat prompt used on timeout/invalid input.
func (c *Composer) NoInputRetry(language string) Prompt {
	tmpl, ok := templates[language]
	if !ok {
		tmpl = templates[c.defaultLanguage]
	}
	return Prompt{Text: tmpl.noInputRetry, VoiceHint: tmpl.voiceHint}
}

func (c *Composer) greeting(tmpl languageTemplate, payload callstate.Payload) Prompt {
	items := renderItems(payload.OrderItems, tmpl)
	text := fmt.Sprintf(tmpl.greeting, payload.VendorName, payload.OrderID, items)
	repeat := c.NoInputRetry(tmpl.code)
	return Prompt{
		Text:      text,
		VoiceHint: tmpl.voiceHint,
		Input: &Input{
			MaxDigits:      1,
			FinishOnKey:    "",
			TimeoutSeconds: 10,
		},
		RepeatPrompt: &repeat,
	}
}

func (c *Composer) prepTimeInquiry(tmpl languageTemplate) Prompt {
	repeat := c.NoInputRetry(tmpl.code)
	return Prompt{
		Text:      tmpl.prepTimeInquiry,
		VoiceHint: tmpl.voiceHint,
		Input: &Input{
			MaxDigits:      1,
			FinishOnKey:    "",
			TimeoutSeconds: 15,
		},
		RepeatPrompt: &repeat,
	}
}

func (c *Composer) rejectionReason(tmpl languageTemplate) Prompt {
	repeat := c.NoInputRetry(tmpl.code)
	return Prompt{
		Text:      tmpl.rejectionReason,
		VoiceHint: tmpl.voiceHint,
		Input: &Input{
			MaxDigits:      1,
			FinishOnKey:    "",
			TimeoutSeconds: 10,
		},
		RepeatPrompt: &repeat,
	}
}

func (c *Composer) goodbyeAccepted(tmpl languageTemplate, prepMinutes int) Prompt {
	return Prompt{
		Text:      fmt.Sprintf(tmpl.goodbyeAccepted, prepMinutes),
		VoiceHint: tmpl.voiceHint,
	}
}

func (c *Composer) goodbyeRejected(tmpl languageTemplate) Prompt {
	return Prompt{
		Text:      tmpl.goodbyeRejected,
		VoiceHint: tmpl.voiceHint,
	}
}

func (c *Composer) goodbyeNoResponse(tmpl languageTemplate) Prompt {
	return Prompt{
		Text:      tmpl.goodbyeNoResponse,
		VoiceHint: tmpl.voiceHint,
	}
}

// renderItems renders an order's item list as a capped, localized comma list.
func renderItems(items []callstate.OrderItem, tmpl languageTemplate) string {
	if len(items) == 0 {
		return tmpl.noItems
	}

	shown := items
	remainder := 0
	if len(items) > maxItemsListed {
		shown = items[:maxItemsListed]
		remainder = len(items) - maxItemsListed
	}

	parts := make([]string, 0, len(shown))
	for _, item := range shown {
		parts = append(parts, fmt.Sprintf(tmpl.itemFormat, item.Quantity, item.Name))
	}

	rendered := strings.Join(parts, ", ")
	if remainder > 0 {
		rendered += fmt.Sprintf(tmpl.andMore, remainder)
	}
	return rendered
}
