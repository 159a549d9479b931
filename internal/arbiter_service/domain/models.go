package domain

import (
	"time"
)

// Client is a tenant (domain) record: one customer account grouping fax
// numbers and the devices allowed to retrieve them.
type Client struct {
	DomainUUID    string
	FaxUser       string
	AuthTokenHash string
	Active        bool
	Numbers       []string
	Version       int64
}

// HasNumber reports whether the number belongs to the client's number set.
func (c *Client) HasNumber(number string) bool {
	for _, n := range c.Numbers {
		if n == number {
			return true
		}
	}
	return false
}

// Ownership is the assignment state of a (domain, number) pair. Legacy
// encodings of "unassigned" (absent row, NULL, empty string, the "<unknown>"
// sentinel) are all normalized to the zero Ownership on read; only the
// canonical cleared form is ever written back.
type Ownership struct {
	owner string
}

// LegacyUnassignedSentinel is the historical placeholder some records carry
// instead of a cleared owner field.
const LegacyUnassignedSentinel = "<unknown>"

// OwnershipFromStored normalizes a stored owner value into an Ownership.
func OwnershipFromStored(raw string) Ownership {
	if raw == "" || raw == LegacyUnassignedSentinel {
		return Ownership{}
	}
	return Ownership{owner: raw}
}

// OwnedBy constructs an assigned Ownership.
func OwnedBy(deviceID string) Ownership {
	return Ownership{owner: deviceID}
}

// Assigned reports whether the number has an owner.
func (o Ownership) Assigned() bool { return o.owner != "" }

// Owner returns the owning device id, or "" when unassigned.
func (o Ownership) Owner() string { return o.owner }

// AssignmentStatus is the per-number outcome of a claim request.
// Losing the race for a number is a normal outcome, not an error.
type AssignmentStatus string

const (
	StatusAllowed      AssignmentStatus = "allowed"
	StatusDenied       AssignmentStatus = "denied"
	StatusUnregistered AssignmentStatus = "unregistered"
	StatusNotOwner     AssignmentStatus = "not_owner"
)

// AssignmentResult is one number's arbitration outcome.
type AssignmentResult struct {
	Status AssignmentStatus
	Owner  string
}

// Device is a registered client machine within a domain.
type Device struct {
	DomainUUID string
	DeviceID   string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// CachedCredential is a decrypted upstream vendor credential.
type CachedCredential struct {
	BearerToken string    `json:"bearer_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ResellerCredentials are the vendor secrets needed to request an upstream
// bearer token. They are stored encrypted at rest and decrypted on demand;
// none of these fields may ever appear in a log entry.
type ResellerCredentials struct {
	MsgAPIUser       string `json:"msg_api_user"`
	MsgAPIPassword   string `json:"msg_api_password"`
	VoiceAPIUser     string `json:"voice_api_user"`
	VoiceAPIPassword string `json:"voice_api_password"`
}
