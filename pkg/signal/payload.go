package signal

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodePayload maps a signal's free-form payload onto a typed struct.
// Field names follow json tags; numeric types are converted weakly since
// JSON round-trips integers as float64.
func DecodePayload(sig *Signal, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build payload decoder: %w", err)
	}
	if err := dec.Decode(sig.Payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", sig.Type, err)
	}
	return nil
}

// ValidationPayload is carried by VALIDATION_PASSED / VALIDATION_FAILED.
type ValidationPayload struct {
	Score    int    `json:"score,omitempty"`
	Feedback string `json:"feedback,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// EscalationPayload is carried by ESCALATION signals to the Terminal.
type EscalationPayload struct {
	Pipeline string   `json:"pipeline"`
	Issue    string   `json:"issue"`
	Options  []string `json:"options,omitempty"`
}

// DecisionPayload is carried by OPERATOR_DECISION responses.
type DecisionPayload struct {
	Decision string `json:"decision"`
	Guidance string `json:"guidance,omitempty"`
}
