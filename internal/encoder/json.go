package encoder

import (
	"encoding/json"

	"github.com/jkindrix/ivrengine/internal/composer"
)

// JSONEncoder renders Dialect J (programmable gather): a single JSON object
// describing the prompt and, if present, its gather constraints. Terminal
// prompts are signaled by max_input_digits == 0 and input_timeout == 1.
type JSONEncoder struct{}

// ContentType implements Encoder.
func (e *JSONEncoder) ContentType() string {
	return "application/json"
}

type gatherPrompt struct {
	Text     string `json:"text,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

type jsonResponse struct {
	GatherPrompt       gatherPrompt  `json:"gather_prompt"`
	Voice              string        `json:"voice"`
	MaxInputDigits     int           `json:"max_input_digits"`
	FinishOnKey        string        `json:"finish_on_key"`
	InputTimeout       int           `json:"input_timeout"`
	RepeatMenu         int           `json:"repeat_menu,omitempty"`
	RepeatGatherPrompt *gatherPrompt `json:"repeat_gather_prompt,omitempty"`
}

// Encode implements Encoder.
func (e *JSONEncoder) Encode(prompt composer.Prompt, callbackURL string) ([]byte, error) {
	text := prompt.Text
	if text == "" && prompt.AudioURL == "" {
		text = "We're sorry, please try again later."
	}

	resp := jsonResponse{
		GatherPrompt: gatherPrompt{Text: text, AudioURL: prompt.AudioURL},
		Voice:        prompt.VoiceHint,
	}

	if prompt.Input != nil {
		resp.MaxInputDigits = prompt.Input.MaxDigits
		resp.FinishOnKey = prompt.Input.FinishOnKey
		resp.InputTimeout = prompt.Input.TimeoutSeconds
		if prompt.RepeatPrompt != nil {
			resp.RepeatMenu = 1
			resp.RepeatGatherPrompt = &gatherPrompt{
				Text:     prompt.RepeatPrompt.Text,
				AudioURL: prompt.RepeatPrompt.AudioURL,
			}
		}
	} else {
		resp.MaxInputDigits = 0
		resp.InputTimeout = 1
	}

	return json.Marshal(resp)
}
