package orders

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a diagnostic order. Individual results
// carry their own workflow state; the order only tracks whether work on it
// may continue.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Urgency drives worklist ordering. STAT outranks URGENT outranks ROUTINE.
type Urgency string

const (
	UrgencyStat    Urgency = "STAT"
	UrgencyUrgent  Urgency = "URGENT"
	UrgencyRoutine Urgency = "ROUTINE"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyStat, UrgencyUrgent, UrgencyRoutine:
		return true
	}
	return false
}

// Order is a diagnostic order with the patient demographics snapshotted at
// ordering time. Results reference the order by id and read the snapshot for
// interpretation and notification.
type Order struct {
	ID     uuid.UUID `json:"id"`
	Number string    `json:"number"`

	PatientName      string     `json:"patient_name"`
	PatientGender    string     `json:"patient_gender"`
	PatientBirthDate *time.Time `json:"patient_birth_date,omitempty"`
	PatientContact   string     `json:"patient_contact,omitempty"`

	ReferredBy string  `json:"referred_by,omitempty"`
	Urgency    Urgency `json:"urgency"`
	Status     Status  `json:"status"`
	Notes      *string `json:"notes,omitempty"`

	CancelReason *string `json:"cancel_reason,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
