package state

import (
	"sync"
	"time"

	"github.com/erx-fd/erx-server/internal/model"
)

// Store is the single owner of every entity kind in the system.
// All mutating access happens while the caller holds the write lock (Lock);
// pure reads take the read lock (RLock). Acquisition order is always this
// store first, then any PKI snapshot handle, so no lock cycle is possible.
type Store struct {
	mu sync.RWMutex

	tasks                map[string]*History[model.Task]
	kbvBinaries          map[string]model.KbvBinary
	kbvBundles           map[string]model.KbvBundle
	erxBundles           map[string]model.ErxBundle
	medicationDispenses  map[string]model.MedicationDispense
	communications       map[string]model.Communication
	auditEventsByKVNR    map[string][]model.AuditEvent
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		tasks:               make(map[string]*History[model.Task]),
		kbvBinaries:         make(map[string]model.KbvBinary),
		kbvBundles:          make(map[string]model.KbvBundle),
		erxBundles:          make(map[string]model.ErxBundle),
		medicationDispenses: make(map[string]model.MedicationDispense),
		communications:      make(map[string]model.Communication),
		auditEventsByKVNR:   make(map[string][]model.AuditEvent),
	}
}

// Lock acquires the store's write lock. Every mutating operation must hold
// it for its entire duration so no partial commit is ever observable.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// RLock/RUnlock acquire/release the store's read lock for pure reads.
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

// --- Task ---

// PutTask inserts a brand-new Task, starting its History at version 1.
// Caller must hold the write lock.
func (s *Store) PutTask(t model.Task, now time.Time) {
	s.tasks[t.ID] = NewHistory(t, now)
}

// TaskHistory returns the History for a Task id, or nil if unknown.
// Caller must hold at least the read lock.
func (s *Store) TaskHistory(id string) *History[model.Task] {
	return s.tasks[id]
}

// GetTask returns the current Task resource, or false if unknown.
func (s *Store) GetTask(id string) (model.Task, bool) {
	h, ok := s.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return h.Get(), true
}

// ListTasks returns every Task's current resource.
func (s *Store) ListTasks() []model.Task {
	out := make([]model.Task, 0, len(s.tasks))
	for _, h := range s.tasks {
		out = append(out, h.Get())
	}
	return out
}

// --- KbvBinary ---

func (s *Store) PutKbvBinary(b model.KbvBinary) { s.kbvBinaries[b.ID] = b }
func (s *Store) GetKbvBinary(id string) (model.KbvBinary, bool) {
	b, ok := s.kbvBinaries[id]
	return b, ok
}
func (s *Store) DeleteKbvBinary(id string) { delete(s.kbvBinaries, id) }

// --- KbvBundle ---

func (s *Store) PutKbvBundle(b model.KbvBundle) { s.kbvBundles[b.ID] = b }
func (s *Store) GetKbvBundle(id string) (model.KbvBundle, bool) {
	b, ok := s.kbvBundles[id]
	return b, ok
}
func (s *Store) DeleteKbvBundle(id string) { delete(s.kbvBundles, id) }

// --- ErxBundle ---

func (s *Store) PutErxBundle(b model.ErxBundle) { s.erxBundles[b.ID] = b }
func (s *Store) GetErxBundle(id string) (model.ErxBundle, bool) {
	b, ok := s.erxBundles[id]
	return b, ok
}
func (s *Store) DeleteErxBundle(id string) { delete(s.erxBundles, id) }

// --- MedicationDispense ---

func (s *Store) PutMedicationDispense(m model.MedicationDispense) {
	s.medicationDispenses[m.ID] = m
}
func (s *Store) GetMedicationDispense(id string) (model.MedicationDispense, bool) {
	m, ok := s.medicationDispenses[id]
	return m, ok
}
func (s *Store) DeleteMedicationDispense(id string) { delete(s.medicationDispenses, id) }

// ListMedicationDispenses returns every retained MedicationDispense.
func (s *Store) ListMedicationDispenses() []model.MedicationDispense {
	out := make([]model.MedicationDispense, 0, len(s.medicationDispenses))
	for _, m := range s.medicationDispenses {
		out = append(out, m)
	}
	return out
}

// FindMedicationDispenseByPrescription returns the dispense attached to a
// given prescription id, used to enforce the Completed-task invariant.
func (s *Store) FindMedicationDispenseByPrescription(prescriptionID string) (model.MedicationDispense, bool) {
	for _, m := range s.medicationDispenses {
		if m.PrescriptionID == prescriptionID {
			return m, true
		}
	}
	return model.MedicationDispense{}, false
}

// --- Communication ---

func (s *Store) PutCommunication(c model.Communication) { s.communications[c.ID] = c }
func (s *Store) GetCommunication(id string) (model.Communication, bool) {
	c, ok := s.communications[id]
	return c, ok
}
func (s *Store) DeleteCommunication(id string) { delete(s.communications, id) }

// ListCommunicationsForTask returns every Communication based_on taskID.
func (s *Store) ListCommunicationsForTask(taskID string) []model.Communication {
	var out []model.Communication
	for _, c := range s.communications {
		if c.BasedOn.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out
}

// ListCommunicationsForParticipant returns every Communication where p is
// sender or recipient.
func (s *Store) ListCommunicationsForParticipant(p model.ParticipantID) []model.Communication {
	var out []model.Communication
	for _, c := range s.communications {
		if c.Sender.Equal(p) || c.Recipient.Equal(p) {
			out = append(out, c)
		}
	}
	return out
}

// CountCommunicationsSentSince counts Communications sent by sender at or
// after since, used to enforce the daily quota.
func (s *Store) CountCommunicationsSentSince(sender model.ParticipantID, since time.Time) int {
	n := 0
	for _, c := range s.communications {
		if c.Sender.Equal(sender) && !c.Sent.Before(since) {
			n++
		}
	}
	return n
}

// DeleteCommunicationsForTask removes every Communication based_on taskID,
// called on close/abort.
func (s *Store) DeleteCommunicationsForTask(taskID string) {
	for id, c := range s.communications {
		if c.BasedOn.TaskID == taskID {
			delete(s.communications, id)
		}
	}
}

// --- AuditEvent ---

// AppendAuditEvent appends ev to the append-only log for its KVNR.
func (s *Store) AppendAuditEvent(ev model.AuditEvent) {
	s.auditEventsByKVNR[ev.KVNR] = append(s.auditEventsByKVNR[ev.KVNR], ev)
}

// ListAuditEvents returns every AuditEvent for a KVNR, in recorded order
// (append order is already chronological since appends happen under the
// write lock).
func (s *Store) ListAuditEvents(kvnr string) []model.AuditEvent {
	evs := s.auditEventsByKVNR[kvnr]
	out := make([]model.AuditEvent, len(evs))
	copy(out, evs)
	return out
}

// GetAuditEvent finds a single event by id within a KVNR's log.
func (s *Store) GetAuditEvent(kvnr, id string) (model.AuditEvent, bool) {
	for _, ev := range s.auditEventsByKVNR[kvnr] {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.AuditEvent{}, false
}
