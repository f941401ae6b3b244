package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

func EncodePayload(t JobType, payload any) ([]byte, error) {
	if !t.IsValid() {
		return nil, ErrInvalidJobType
	}

	switch payload.(type) {
	case EmailTokenPayload, *EmailTokenPayload:
	default:
		return nil, ErrPayloadTypeMismatch
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	return b, nil
}

// DecodePayload unmarshals job.Payload into the typed payload struct and
// applies minimal validation so the worker never dispatches a blank email.
func DecodePayload(j Job) (EmailTokenPayload, error) {
	if !j.Type.IsValid() {
		return EmailTokenPayload{}, ErrInvalidJobType
	}
	if len(j.Payload) == 0 {
		return EmailTokenPayload{}, ErrInvalidJobPayload
	}

	var p EmailTokenPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return EmailTokenPayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if p.UserID <= 0 || strings.TrimSpace(p.Email) == "" || strings.TrimSpace(p.Token) == "" {
		return EmailTokenPayload{}, ErrInvalidJobPayload
	}

	return p, nil
}
