// Package comm implements the patient<->pharmacy Communication engine:
// create/read/delete with sender/recipient authorization, content-size
// and daily-quota enforcement, and read-triggered delete protection.
// Validation runs in the same order throughout: sender identity, then
// size, then rate, then accept.
package comm

import (
	"time"

	"github.com/google/uuid"

	"github.com/erx-fd/erx-server/internal/apierror"
	"github.com/erx-fd/erx-server/internal/config"
	"github.com/erx-fd/erx-server/internal/model"
	"github.com/erx-fd/erx-server/internal/state"
)

// Engine drives Communication create/read/delete over a shared
// *state.Store, with the same per-call-holds-write-lock discipline as
// internal/workflow.
type Engine struct {
	store  *state.Store
	limits config.LimitsConfig
	clock  func() time.Time
}

// NewEngine builds an Engine. clock defaults to time.Now when nil.
func NewEngine(store *state.Store, limits config.LimitsConfig, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: store, limits: limits, clock: clock}
}

// Create validates and inserts a new Communication sent by caller.
func (e *Engine) Create(caller model.ParticipantID, kind model.CommunicationKind, recipient model.ParticipantID, basedOn model.TaskBasis, content string) (model.Communication, error) {
	if !kind.Known() {
		return model.Communication{}, apierror.New(apierror.BadRequest, "unknown communication kind")
	}
	if caller.Equal(recipient) {
		return model.Communication{}, apierror.New(apierror.BadRequest, "sender and recipient must differ")
	}
	if len(content) > e.limits.MaxCommunicationContent {
		return model.Communication{}, apierror.New(apierror.PayloadTooLarge, "content exceeds the configured size bound")
	}

	e.store.Lock()
	defer e.store.Unlock()

	task, ok := e.store.GetTask(basedOn.TaskID)
	if !ok {
		return model.Communication{}, apierror.New(apierror.NotFound, "based_on references no such Task")
	}
	if err := authorizeSender(kind, caller, task); err != nil {
		return model.Communication{}, err
	}

	since := e.clock().Add(-24 * time.Hour)
	if e.store.CountCommunicationsSentSince(caller, since) >= e.limits.MaxCommunicationsPerDay {
		return model.Communication{}, apierror.New(apierror.Forbidden, "daily communication quota exceeded")
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return model.Communication{}, apierror.Wrap(apierror.Internal, "allocate communication id", err)
	}

	c := model.Communication{
		ID:        id.String(),
		Kind:      kind,
		Sender:    caller,
		Recipient: recipient,
		BasedOn:   basedOn,
		Content:   content,
		Sent:      e.clock(),
	}
	e.store.PutCommunication(c)
	return c, nil
}

// authorizeSender enforces the Task-authorization half of create's
// preconditions: the patient-owner sends InfoReq/DispenseReq/
// Representative, the performer pharmacy sends Reply.
func authorizeSender(kind model.CommunicationKind, caller model.ParticipantID, task model.Task) error {
	if kind.SenderMustBeTaskOwner() {
		if caller.Kind != model.ParticipantKVNR || task.For != caller.Value {
			return apierror.New(apierror.Forbidden, "only the Task's owning patient may send this communication kind")
		}
		return nil
	}
	if caller.Kind != model.ParticipantTelematikID || task.PerformerTelematikID != caller.Value {
		return apierror.New(apierror.Forbidden, "only the Task's performer pharmacy may send a Reply")
	}
	return nil
}

// Get returns a Communication to caller, marking it received if caller
// is the designated recipient reading it for the first time.
func (e *Engine) Get(id string, caller model.ParticipantID) (model.Communication, error) {
	e.store.Lock()
	defer e.store.Unlock()

	c, ok := e.store.GetCommunication(id)
	if !ok {
		return model.Communication{}, apierror.New(apierror.NotFound, "no such communication")
	}
	if !caller.Equal(c.Sender) && !caller.Equal(c.Recipient) {
		return model.Communication{}, apierror.New(apierror.Forbidden, "caller is neither sender nor recipient")
	}

	if caller.Equal(c.Recipient) && !c.IsRead() {
		now := e.clock()
		c.Received = &now
		e.store.PutCommunication(c)
	}
	return c, nil
}

// Delete removes a Communication. Only its sender may delete it, and
// only while it remains unread by the recipient.
func (e *Engine) Delete(id string, caller model.ParticipantID) error {
	e.store.Lock()
	defer e.store.Unlock()

	c, ok := e.store.GetCommunication(id)
	if !ok {
		return apierror.New(apierror.NotFound, "no such communication")
	}
	if !caller.Equal(c.Sender) {
		return apierror.New(apierror.Forbidden, "only the sender may delete a communication")
	}
	if c.IsRead() {
		return apierror.New(apierror.Conflict, "communication has already been read by its recipient")
	}
	e.store.DeleteCommunication(id)
	return nil
}
