package llm

import "fmt"

// DefaultTemperature is used when a Request leaves Temperature unset.
const DefaultTemperature = 0.7

// ResponseFormatJSONObject asks the provider for a JSON object response.
const ResponseFormatJSONObject = "json_object"

// ResponseFormat constrains the shape of the generated content.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Handler receives the full text accumulated so far, not the latest delta.
// Implementations should overwrite their display state on every call.
type Handler func(text string)

// Request is a provider-agnostic generation request. It is built per user
// action and consumed once.
type Request struct {
	Config   GenerationConfig `json:"config"`
	Messages []Message        `json:"messages"`

	// Temperature in [0, 2]. Nil means DefaultTemperature.
	Temperature *float64 `json:"temperature,omitempty"`

	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Handler is only invoked on streaming requests.
	Handler Handler `json:"-"`
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

// ResolvedTemperature returns the effective sampling temperature.
func (r Request) ResolvedTemperature() float64 {
	if r.Temperature == nil {
		return DefaultTemperature
	}
	return *r.Temperature
}

// WantsJSON reports whether a JSON object response was requested.
func (r Request) WantsJSON() bool {
	return r.ResponseFormat != nil && r.ResponseFormat.Type == ResponseFormatJSONObject
}

// Validate rejects requests no provider could serve.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidRequest)
	}
	if t := r.ResolvedTemperature(); !(t >= 0 && t <= 2) {
		return fmt.Errorf("%w: temperature %.2f outside [0, 2]", ErrInvalidRequest, t)
	}
	return nil
}
