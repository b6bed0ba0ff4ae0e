package encoder

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/jkindrix/ivrengine/internal/composer"
)

// XMLEncoder renders Dialect X (ExoML passthrough): a <Response> root
// wrapping a <Gather> of a <Say>/<Play> op for non-terminal prompts, or a
// bare <Say>/<Play> for terminal ones. The root element's closing tag must
// always be present — omitting it causes the carrier to hang up immediately.
type XMLEncoder struct{}

// ContentType implements Encoder.
func (e *XMLEncoder) ContentType() string {
	return "application/xml"
}

// Encode implements Encoder.
func (e *XMLEncoder) Encode(prompt composer.Prompt, callbackURL string) ([]byte, error) {
	text := prompt.Text
	if text == "" {
		text = "We're sorry, please try again later."
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString("<Response>\n")

	if prompt.Input != nil {
		finishOnKey := prompt.Input.FinishOnKey
		buf.WriteString(fmt.Sprintf(
			"  <Gather action=%q numDigits=\"%d\" finishOnKey=%q timeout=\"%d\">\n",
			callbackURL, prompt.Input.MaxDigits, finishOnKey, prompt.Input.TimeoutSeconds,
		))
		buf.WriteString("    ")
		writeVerbalOp(&buf, prompt.Text, prompt.AudioURL, prompt.VoiceHint)
		buf.WriteString("\n  </Gather>\n")

		if prompt.RepeatPrompt != nil {
			buf.WriteString("  ")
			writeVerbalOp(&buf, prompt.RepeatPrompt.Text, prompt.RepeatPrompt.AudioURL, prompt.RepeatPrompt.VoiceHint)
			buf.WriteString("\n")
		}
	} else {
		buf.WriteString("  ")
		writeVerbalOp(&buf, text, prompt.AudioURL, prompt.VoiceHint)
		buf.WriteString("\n  <Hangup></Hangup>\n")
	}

	buf.WriteString("</Response>")

	return buf.Bytes(), nil
}

// writeVerbalOp writes a <Play> op if audioURL is present, else a <Say>.
func writeVerbalOp(buf *bytes.Buffer, text, audioURL, voiceHint string) {
	if audioURL != "" {
		buf.WriteString("<Play>")
		xml.EscapeText(buf, []byte(audioURL))
		buf.WriteString("</Play>")
		return
	}
	if text == "" {
		text = "We're sorry, please try again later."
	}
	buf.WriteString(fmt.Sprintf("<Say voice=%q>", voiceHint))
	xml.EscapeText(buf, []byte(text))
	buf.WriteString("</Say>")
}
