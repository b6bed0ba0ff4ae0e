// Package encoder serializes a composer.Prompt into one of the carrier's two
// response dialects: an XML "ExoML" passthrough dialect, or a JSON
// "programmable gather" dialect. Both implement the shared Encoder interface
// so the Callback Handler never branches on dialect.
package encoder

import (
	"github.com/jkindrix/ivrengine/internal/composer"
)

// Dialect names recognized by New.
const (
	DialectXML  = "xml"
	DialectJSON = "json"
)

// Encoder renders a Prompt into a carrier-dialect response body plus the
// content-type the Callback Handler must set on the HTTP response.
type Encoder interface {
	// Encode serializes prompt into its dialect's wire format. callbackURL
	// is the Callback Handler's own absolute URL, used as the gather's
	// action/event URL so the carrier re-fetches this service.
	Encode(prompt composer.Prompt, callbackURL string) ([]byte, error)
	// ContentType is the HTTP Content-Type header value for this dialect's output.
	ContentType() string
}

// New constructs the Encoder for the configured dialect.
func New(dialect string) Encoder {
	switch dialect {
	case DialectJSON:
		return &JSONEncoder{}
	default:
		return &XMLEncoder{}
	}
}
