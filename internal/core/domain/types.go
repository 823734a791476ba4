package domain

import "time"

// Role identifies one leg of a call. It is fixed for the life of an analytics connection.
type Role string

const (
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
)

// Roles lists both legs in setup order.
var Roles = []Role{RoleAgent, RoleCustomer}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleCustomer
}

// DisplayName returns the default speaker name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleAgent:
		return "Agent"
	case RoleCustomer:
		return "Customer"
	}
	return string(r)
}

// SessionStatus is the lifecycle state of a bridged call.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Customer is the party being called.
type Customer struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Speaker is the identity announced to the analytics backend for one leg.
type Speaker struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// Session is the lifecycle record of one bridged call.
type Session struct {
	ID        string        `json:"id"`
	CallID    string        `json:"call_id,omitempty"`
	Status    SessionStatus `json:"status"`
	Customer  Customer      `json:"customer"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CallStatus is the status reported by the call-control platform.
type CallStatus string

const (
	CallStatusScheduled  CallStatus = "scheduled"
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusForwarding CallStatus = "forwarding"
	CallStatusEnded      CallStatus = "ended"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// Monitor holds the live-observation endpoints of a call.
type Monitor struct {
	ListenURL  string `json:"listenUrl"`
	ControlURL string `json:"controlUrl,omitempty"`
}

// Call is an outbound call as reported by the call-control platform.
type Call struct {
	ID            string     `json:"id"`
	Status        CallStatus `json:"status"`
	Monitor       Monitor    `json:"monitor"`
	Customer      Customer   `json:"customer"`
	PhoneNumberID string     `json:"phoneNumberId,omitempty"`
	AssistantID   string     `json:"assistantId,omitempty"`
	EndedReason   string     `json:"endedReason,omitempty"`
}

// CreateCallRequest asks the call-control platform to dial a customer.
type CreateCallRequest struct {
	AssistantID   string   `json:"assistantId"`
	PhoneNumberID string   `json:"phoneNumberId"`
	Customer      Customer `json:"customer"`
}
