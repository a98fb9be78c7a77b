// Package audit is a thin read-side wrapper over internal/state's
// per-KVNR AuditEvent log: it restricts access to the owning patient
// (an AuditEvent trail is never exposed to a pharmacy) and records the
// read itself as a further AuditEvent, so a patient reviewing their own
// history sees that review as part of the history.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/erx-fd/erx-server/internal/apierror"
	"github.com/erx-fd/erx-server/internal/model"
	"github.com/erx-fd/erx-server/internal/state"
)

// Reader serves AuditEvent reads for a single owning KVNR.
type Reader struct {
	store *state.Store
	clock func() time.Time
}

// NewReader builds a Reader. clock defaults to time.Now when nil.
func NewReader(store *state.Store, clock func() time.Time) *Reader {
	if clock == nil {
		clock = time.Now
	}
	return &Reader{store: store, clock: clock}
}

// List returns every AuditEvent recorded for caller's own KVNR,
// including the self-audit entry this call itself appends. Only the
// owning patient may call this; any other caller kind is Forbidden.
func (r *Reader) List(caller model.ParticipantID) ([]model.AuditEvent, error) {
	if caller.Kind != model.ParticipantKVNR {
		return nil, apierror.New(apierror.Forbidden, "AuditEvent history is never exposed to a pharmacy or prescriber")
	}

	r.store.Lock()
	defer r.store.Unlock()

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, "allocate self-audit event id", err)
	}
	r.store.AppendAuditEvent(model.AuditEvent{
		ID:       id.String(),
		KVNR:     caller.Value,
		SubType:  "read",
		Action:   model.AuditActionRead,
		Recorded: r.clock(),
		Outcome:  model.AuditOutcomeSuccess,
		Agent:    caller.String(),
		Source:   "self",
		Entity: model.AuditEntity{
			What: "AuditEvent",
			Name: caller.Value,
		},
	})

	return r.store.ListAuditEvents(caller.Value), nil
}

// Get returns a single AuditEvent by id from caller's own log.
func (r *Reader) Get(caller model.ParticipantID, id string) (model.AuditEvent, error) {
	if caller.Kind != model.ParticipantKVNR {
		return model.AuditEvent{}, apierror.New(apierror.Forbidden, "AuditEvent history is never exposed to a pharmacy or prescriber")
	}

	r.store.RLock()
	defer r.store.RUnlock()

	ev, ok := r.store.GetAuditEvent(caller.Value, id)
	if !ok {
		return model.AuditEvent{}, apierror.New(apierror.NotFound, "no such audit event")
	}
	return ev, nil
}
