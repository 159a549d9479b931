package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// NumberList accepts both wire shapes clients send: a single number as a
// bare JSON string, or a JSON array of numbers. Older desktop builds send
// the bare-string form.
type NumberList []string

func (n *NumberList) UnmarshalJSON(data []byte) error {
	// Explicit null stays nil, same as omitting the field.
	if bytes.Equal(data, []byte("null")) {
		*n = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*n = NumberList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*n = NumberList(many)
		return nil
	}
	return errors.New("numbers must be a string or an array of strings")
}

// InitSessionRequestDTO starts a device session. The client auth token
// travels in the Authorization header, not the body.
type InitSessionRequestDTO struct {
	FaxUser  string `json:"fax_user" validate:"required,min=3,max=255"`
	DeviceID string `json:"device_id" validate:"required,min=1,max=255"`
}

// InitSessionResponseDTO returns the session's first capability token.
type InitSessionResponseDTO struct {
	JWTToken   string   `json:"jwt_token"`
	DomainUUID string   `json:"domain_uuid"`
	ExpiresIn  int64    `json:"expires_in"`
	Numbers    []string `json:"all_fax_numbers"`
}

// RequestAssignmentsRequestDTO claims numbers for a device.
type RequestAssignmentsRequestDTO struct {
	DeviceID string     `json:"device_id" validate:"required,min=1,max=255"`
	Numbers  NumberList `json:"numbers" validate:"required"`
}

// AssignmentResultDTO is one number's arbitration outcome. Owner names the
// holding device on denial so support can see who holds a number.
type AssignmentResultDTO struct {
	Status string `json:"status"`
	Owner  string `json:"owner,omitempty"`
}

// RequestAssignmentsResponseDTO reports per-number outcomes. EscalatedToken
// is present only when the token was escalated as part of this request.
type RequestAssignmentsResponseDTO struct {
	Results        map[string]AssignmentResultDTO `json:"results"`
	Version        int64                          `json:"version"`
	EscalatedToken string                         `json:"escalated_token,omitempty"`
}

// UnregisterAssignmentsRequestDTO releases numbers. A missing numbers field
// releases every number the device holds in the domain.
type UnregisterAssignmentsRequestDTO struct {
	DeviceID string     `json:"device_id" validate:"required,min=1,max=255"`
	Numbers  NumberList `json:"numbers,omitempty"`
}

// UnregisterAssignmentsResponseDTO reports per-number release outcomes.
type UnregisterAssignmentsResponseDTO struct {
	Results map[string]AssignmentResultDTO `json:"results"`
	Version int64                          `json:"version"`
}

// OwnerDTO is one number's entry in a list snapshot; Owner is null when the
// number is unassigned.
type OwnerDTO struct {
	Owner *string `json:"owner"`
}

// ListAssignmentsResponseDTO snapshots the domain's assignment map.
type ListAssignmentsResponseDTO struct {
	Results map[string]OwnerDTO `json:"results"`
	Version int64               `json:"version"`
}

// BearerTokenResponseDTO is the upstream credential handed to a device.
// Deliberately minimal: nothing about the reseller or the fetch leaks out.
type BearerTokenResponseDTO struct {
	BearerToken string    `json:"bearer_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}
