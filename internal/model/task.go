package model

import "time"

// TaskStatus is the Task lifecycle state.
type TaskStatus string

const (
	TaskStatusDraft      TaskStatus = "draft"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskIdentifier carries the two bearer tokens that gate Task operations.
type TaskIdentifier struct {
	AccessCode string `json:"access_code,omitempty"`
	Secret     string `json:"secret,omitempty"`
}

// TaskInput references the companion artefacts supplied at activate.
type TaskInput struct {
	EPrescription  string `json:"e_prescription,omitempty"`  // KbvBinary id
	PatientReceipt string `json:"patient_receipt,omitempty"` // KbvBundle id
}

// TaskOutput references the artefact produced at close.
type TaskOutput struct {
	Receipt string `json:"receipt,omitempty"` // ErxBundle id
}

// Task is the prescription workflow object.
type Task struct {
	ID             string         `json:"id"`
	PrescriptionID string         `json:"prescription_id"`
	Status         TaskStatus     `json:"status"`
	FlowType       FlowType       `json:"flow_type"`
	For            string         `json:"for,omitempty"` // KVNR, set at activate
	AuthoredOn     time.Time      `json:"authored_on"`
	LastModified   time.Time      `json:"last_modified"`
	Identifier     TaskIdentifier `json:"identifier"`
	Input          TaskInput      `json:"input"`
	Output         TaskOutput     `json:"output"`

	// PerformerTelematikID is set at accept; owns the Task until close/reject.
	PerformerTelematikID string     `json:"performer_telematik_id,omitempty"`
	AcceptedAt           *time.Time `json:"accepted_at,omitempty"`
}

// Clone returns a deep-enough copy for use as a new History version; all
// fields are values or pointers to fresh time.Time allocations.
func (t Task) Clone() Task {
	clone := t
	if t.AcceptedAt != nil {
		ts := *t.AcceptedAt
		clone.AcceptedAt = &ts
	}
	return clone
}

// KbvBinary is the opaque CMS-signed prescription document submitted at
// activate. The server never interprets the CMS payload
// itself beyond what internal/sign needs to verify it.
type KbvBinary struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// KbvBundle is the patient-receipt FHIR document extracted from the KBV
// CMS container, canonicalised and re-signed detached-JSON by the server.
type KbvBundle struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Content   []byte    `json:"content"`   // canonical FHIR JSON bytes
	Signature []byte    `json:"signature"` // detached JSON signature
	CreatedAt time.Time `json:"created_at"`
}

// ErxBundleComposition captures the Task-derived fields woven into the
// pharmacy receipt's FHIR Composition resource.
type ErxBundleComposition struct {
	PerformerTelematikID string    `json:"performer_telematik_id"`
	EventStart           time.Time `json:"event_start"` // Task.accept time
	EventEnd             time.Time `json:"event_end"`   // Task.close time
}

// ErxBundle is the server-produced, CAdES-signed pharmacy receipt created
// at close.
type ErxBundle struct {
	ID             string               `json:"id"`
	TaskID         string               `json:"task_id"`
	PrescriptionID string               `json:"prescription_id"`
	Composition    ErxBundleComposition `json:"composition"`
	Content        []byte               `json:"content"`
	Signature      []byte               `json:"signature"` // CAdES/PKCS7
}

// MedicationDispense is submitted at close and tied to the owning Task.
type MedicationDispense struct {
	ID             string    `json:"id"`
	PrescriptionID string    `json:"prescription_id"`
	Subject        string    `json:"subject"` // KVNR
	PerformerID    string    `json:"performer_id"`
	WhenHandedOver time.Time `json:"when_handed_over"`
	Content        []byte    `json:"content"`
}
