// Package workflow implements the prescription Task state machine:
// create/activate/accept/reject/close/abort, its preconditions and
// effects, and the AuditEvent emitted on every mutating call. Every
// transition follows the same shape: a precondition check followed by
// a state mutation, both performed while holding the owning lock.
package workflow

import (
	"fmt"
	"time"

	"github.com/erx-fd/erx-server/internal/apierror"
	"github.com/erx-fd/erx-server/internal/config"
	"github.com/erx-fd/erx-server/internal/fhir"
	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/model"
	"github.com/erx-fd/erx-server/internal/pki"
	"github.com/erx-fd/erx-server/internal/sign"
	"github.com/erx-fd/erx-server/internal/state"
)

// Engine drives the Task lifecycle over a shared *state.Store. Every
// method acquires the store's write lock for its entire duration, per
// the server's single lock-acquisition order (store, then any PKI
// snapshot handle).
type Engine struct {
	store  *state.Store
	pki    *pki.Store
	ids    *IDGenerator
	limits config.LimitsConfig
	log    logger.Logger
	clock  func() time.Time
}

// NewEngine builds an Engine. clock defaults to time.Now when nil,
// letting tests supply a deterministic clock.
func NewEngine(store *state.Store, pkiStore *pki.Store, limits config.LimitsConfig, log logger.Logger, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:  store,
		pki:    pkiStore,
		ids:    NewIDGenerator(),
		limits: limits,
		log:    log,
		clock:  clock,
	}
}

// Create allocates a new Task in Draft for the given prescriber.
func (e *Engine) Create(profession model.ProfessionOID, agent string, flowType model.FlowType) (model.Task, error) {
	now := e.clock()

	if !profession.IsPhysician() {
		err := apierror.New(apierror.Forbidden, "only a prescriber may create a Task")
		e.audit("", "create", agent, "", model.AuditOutcomeSeriousFailure, err.Error())
		return model.Task{}, err
	}
	if !flowType.Known() {
		err := apierror.New(apierror.BadRequest, "unknown flow_type")
		e.audit("", "create", agent, "", model.AuditOutcomeMinorFailure, err.Error())
		return model.Task{}, err
	}

	e.store.Lock()
	defer e.store.Unlock()

	id, err := randomTaskID()
	if err != nil {
		werr := apierror.Wrap(apierror.Internal, "generate task id", err)
		e.auditLocked("", "create", agent, "", model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}
	prescriptionID, err := e.ids.Next(flowType, func(candidate string) bool {
		for _, t := range e.store.ListTasks() {
			if t.PrescriptionID == candidate {
				return true
			}
		}
		return false
	}, now, e.limits.MaxActivateRetries)
	if err != nil {
		werr := apierror.Wrap(apierror.Internal, "allocate prescription id", err)
		e.auditLocked("", "create", agent, "", model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}
	accessCode, err := randomHex(32)
	if err != nil {
		werr := apierror.Wrap(apierror.Internal, "generate access code", err)
		e.auditLocked("", "create", agent, prescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}

	task := model.Task{
		ID:             id,
		PrescriptionID: prescriptionID,
		Status:         model.TaskStatusDraft,
		FlowType:       flowType,
		AuthoredOn:     now,
		LastModified:   now,
		Identifier:     model.TaskIdentifier{AccessCode: accessCode},
	}
	e.store.PutTask(task, now)

	// The owning KVNR is not known until activate extracts it from the
	// KBV bundle, so pre-activation audit events are bucketed under the
	// empty-KVNR key rather than a patient identity that does not exist
	// yet; ListAuditEvents("") surfaces this bucket for operators who
	// need to audit draft-stage activity.
	e.auditLocked("", "create", agent, prescriptionID, model.AuditOutcomeSuccess, "")
	return task, nil
}

// Activate transitions a Draft Task to Ready: the submitted KBV binary
// is CMS-verified, its inner KBV bundle XML-DSig-verified, and the
// patient's KVNR extracted into the Task.
func (e *Engine) Activate(taskID, accessCode string, agent string, kbvBinary []byte) (model.Task, error) {
	now := e.clock()

	e.store.Lock()
	defer e.store.Unlock()

	h := e.store.TaskHistory(taskID)
	if h == nil {
		err := apierror.New(apierror.NotFound, "no such Task")
		e.auditLocked("", "activate", agent, "", model.AuditOutcomeMinorFailure, err.Error())
		return model.Task{}, err
	}
	task := h.Get()

	if task.Status != model.TaskStatusDraft {
		err := apierror.New(apierror.Conflict, "Task is not in Draft")
		e.auditLocked(task.For, "activate", agent, task.PrescriptionID, model.AuditOutcomeMinorFailure, err.Error())
		return model.Task{}, err
	}
	if task.Identifier.AccessCode != accessCode {
		err := apierror.New(apierror.Unauthorized, "access_code does not match")
		e.auditLocked(task.For, "activate", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, err.Error())
		return model.Task{}, err
	}

	content, signer, signingTime, err := sign.VerifyAttachedCMS(kbvBinary, e.pki, now)
	if err != nil {
		werr := apierror.Wrap(apierror.BadRequest, "KBV binary CMS verification failed", err)
		e.auditLocked(task.For, "activate", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}
	_ = signer

	if _, err := sign.VerifyXMLDSig(content, e.pki, signingTime); err != nil {
		werr := apierror.Wrap(apierror.BadRequest, "KBV bundle XML-DSig verification failed", err)
		e.auditLocked(task.For, "activate", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}

	kvnr, err := fhir.ExtractPatientKVNR(content)
	if err != nil {
		werr := apierror.Wrap(apierror.BadRequest, "KBV bundle carries no usable KVNR", err)
		e.auditLocked(task.For, "activate", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}

	receiptJSON, err := fhir.CanonicalPatientReceipt(content)
	if err != nil {
		werr := apierror.Wrap(apierror.Internal, "render patient receipt", err)
		e.auditLocked(kvnr, "activate", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}

	binaryID, err := randomTaskID()
	if err != nil {
		werr := apierror.Wrap(apierror.Internal, "allocate KbvBinary id", err)
		e.auditLocked(kvnr, "activate", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}
	bundleID, err := randomTaskID()
	if err != nil {
		werr := apierror.Wrap(apierror.Internal, "allocate KbvBundle id", err)
		e.auditLocked(kvnr, "activate", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, werr
	}

	e.store.PutKbvBinary(model.KbvBinary{ID: binaryID, Data: kbvBinary})
	e.store.PutKbvBundle(model.KbvBundle{
		ID:        bundleID,
		TaskID:    taskID,
		Content:   receiptJSON,
		CreatedAt: now,
	})

	mut := h.GetMut(now)
	mut.For = kvnr
	mut.Status = model.TaskStatusReady
	mut.LastModified = now
	mut.Input = model.TaskInput{EPrescription: binaryID, PatientReceipt: bundleID}

	e.auditLocked(kvnr, "activate", agent, task.PrescriptionID, model.AuditOutcomeSuccess, "")
	return *mut, nil
}

// Accept transitions a Ready Task to InProgress, recording the
// accepting pharmacy's Telematik-ID as performer.
func (e *Engine) Accept(taskID, accessCode string, performer model.ParticipantID) (model.Task, model.KbvBinary, error) {
	now := e.clock()

	e.store.Lock()
	defer e.store.Unlock()

	h := e.store.TaskHistory(taskID)
	if h == nil {
		err := apierror.New(apierror.NotFound, "no such Task")
		e.auditLocked("", "accept", performer.String(), "", model.AuditOutcomeMinorFailure, err.Error())
		return model.Task{}, model.KbvBinary{}, err
	}
	task := h.Get()

	if task.Status != model.TaskStatusReady {
		err := apierror.New(apierror.Forbidden, "Task is not Ready")
		e.auditLocked(task.For, "accept", performer.String(), task.PrescriptionID, model.AuditOutcomeMinorFailure, err.Error())
		return model.Task{}, model.KbvBinary{}, err
	}
	if task.Identifier.AccessCode != accessCode {
		err := apierror.New(apierror.Unauthorized, "access_code does not match")
		e.auditLocked(task.For, "accept", performer.String(), task.PrescriptionID, model.AuditOutcomeSeriousFailure, err.Error())
		return model.Task{}, model.KbvBinary{}, err
	}

	secret, err := randomHex(32)
	if err != nil {
		werr := apierror.Wrap(apierror.Internal, "generate secret", err)
		e.auditLocked(task.For, "accept", performer.String(), task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.Task{}, model.KbvBinary{}, werr
	}

	mut := h.GetMut(now)
	mut.Status = model.TaskStatusInProgress
	mut.LastModified = now
	mut.Identifier.Secret = secret
	mut.PerformerTelematikID = performer.Value
	acceptedAt := now
	mut.AcceptedAt = &acceptedAt

	binary, _ := e.store.GetKbvBinary(task.Input.EPrescription)

	e.auditLocked(task.For, "accept", performer.String(), task.PrescriptionID, model.AuditOutcomeSuccess, "")
	return *mut, binary, nil
}

// Reject returns an InProgress Task to Ready, clearing its accept
// state so another pharmacy can accept it.
func (e *Engine) Reject(taskID, secret string, agent string) (model.Task, error) {
	now := e.clock()

	e.store.Lock()
	defer e.store.Unlock()

	h := e.store.TaskHistory(taskID)
	if h == nil {
		err := apierror.New(apierror.NotFound, "no such Task")
		e.auditLocked("", "reject", agent, "", model.AuditOutcomeMinorFailure, err.Error())
		return model.Task{}, err
	}
	task := h.Get()

	if task.Status != model.TaskStatusInProgress {
		err := apierror.New(apierror.Conflict, "Task is not InProgress")
		e.auditLocked(task.For, "reject", agent, task.PrescriptionID, model.AuditOutcomeMinorFailure, err.Error())
		return model.Task{}, err
	}
	if task.Identifier.Secret != secret {
		err := apierror.New(apierror.Unauthorized, "secret does not match")
		e.auditLocked(task.For, "reject", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, err.Error())
		return model.Task{}, err
	}

	mut := h.GetMut(now)
	mut.Status = model.TaskStatusReady
	mut.LastModified = now
	mut.Identifier.Secret = ""
	mut.PerformerTelematikID = ""
	mut.AcceptedAt = nil

	e.auditLocked(task.For, "reject", agent, task.PrescriptionID, model.AuditOutcomeSuccess, "")
	return *mut, nil
}

// CloseInput carries the caller-supplied fields needed to close a Task.
type CloseInput struct {
	MedicationDispense model.MedicationDispense
	ErxBundleContent   []byte // canonical FHIR content to sign as the receipt
}

// Close completes an InProgress Task: the submitted MedicationDispense
// is attached, an ErxBundle is built and CAdES-signed, and every
// Communication referencing the Task is deleted.
func (e *Engine) Close(taskID, secret, agent string, in CloseInput, signerCert *sign.Signer) (model.ErxBundle, error) {
	now := e.clock()

	e.store.Lock()
	defer e.store.Unlock()

	h := e.store.TaskHistory(taskID)
	if h == nil {
		err := apierror.New(apierror.NotFound, "no such Task")
		e.auditLocked("", "close", agent, "", model.AuditOutcomeMinorFailure, err.Error())
		return model.ErxBundle{}, err
	}
	task := h.Get()

	if task.Status != model.TaskStatusInProgress {
		err := apierror.New(apierror.Conflict, "Task is not InProgress")
		e.auditLocked(task.For, "close", agent, task.PrescriptionID, model.AuditOutcomeMinorFailure, err.Error())
		return model.ErxBundle{}, err
	}
	if task.Identifier.Secret != secret {
		err := apierror.New(apierror.Unauthorized, "secret does not match")
		e.auditLocked(task.For, "close", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, err.Error())
		return model.ErxBundle{}, err
	}
	if in.MedicationDispense.PrescriptionID != task.PrescriptionID || in.MedicationDispense.Subject != task.For {
		err := apierror.New(apierror.BadRequest, "MedicationDispense does not match the owning Task")
		e.auditLocked(task.For, "close", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, err.Error())
		return model.ErxBundle{}, err
	}

	erxID, err := randomTaskID()
	if err != nil {
		werr := apierror.Wrap(apierror.Internal, "allocate ErxBundle id", err)
		e.auditLocked(task.For, "close", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
		return model.ErxBundle{}, werr
	}

	var signature []byte
	if signerCert != nil {
		signature, err = sign.SignCAdES(in.ErxBundleContent, signerCert.Cert, signerCert.Key, signerCert.Chain)
		if err != nil {
			werr := apierror.Wrap(apierror.Internal, "sign ErxBundle", err)
			e.auditLocked(task.For, "close", agent, task.PrescriptionID, model.AuditOutcomeSeriousFailure, werr.Error())
			return model.ErxBundle{}, werr
		}
	}

	erx := model.ErxBundle{
		ID:             erxID,
		TaskID:         taskID,
		PrescriptionID: task.PrescriptionID,
		Composition: model.ErxBundleComposition{
			PerformerTelematikID: task.PerformerTelematikID,
			EventStart:           derefTime(task.AcceptedAt, now),
			EventEnd:             now,
		},
		Content:   in.ErxBundleContent,
		Signature: signature,
	}
	e.store.PutErxBundle(erx)
	e.store.PutMedicationDispense(in.MedicationDispense)
	e.store.DeleteCommunicationsForTask(taskID)

	mut := h.GetMut(now)
	mut.Status = model.TaskStatusCompleted
	mut.LastModified = now
	mut.Output = model.TaskOutput{Receipt: erxID}

	e.auditLocked(task.For, "close", agent, task.PrescriptionID, model.AuditOutcomeSuccess, "")
	return erx, nil
}

// AbortRole distinguishes the three role shapes abort's access control
// checks against.
type AbortRole int

const (
	AbortByPatient AbortRole = iota
	AbortByPharmacy
	AbortByPhysician
)

// Abort cancels a Task. Access control depends on role: the owning
// patient or any pharmacy may abort regardless of status (subject to
// the state machine's own allowed-operation table), a physician only
// while the Task is still in Draft.
func (e *Engine) Abort(taskID string, role AbortRole, caller model.ParticipantID) error {
	now := e.clock()

	e.store.Lock()
	defer e.store.Unlock()

	h := e.store.TaskHistory(taskID)
	if h == nil {
		err := apierror.New(apierror.NotFound, "no such Task")
		e.auditLocked("", "abort", caller.String(), "", model.AuditOutcomeMinorFailure, err.Error())
		return err
	}
	task := h.Get()

	switch role {
	case AbortByPatient:
		if task.For == "" || task.For != caller.Value {
			err := apierror.New(apierror.Forbidden, "only the owning patient may abort this Task")
			e.auditLocked(task.For, "abort", caller.String(), task.PrescriptionID, model.AuditOutcomeSeriousFailure, err.Error())
			return err
		}
	case AbortByPhysician:
		if task.Status != model.TaskStatusDraft {
			err := apierror.New(apierror.Forbidden, "a prescriber may only abort a Task still in Draft")
			e.auditLocked(task.For, "abort", caller.String(), task.PrescriptionID, model.AuditOutcomeSeriousFailure, err.Error())
			return err
		}
	case AbortByPharmacy:
		// any pharmacy may abort a Task it can see; no further identity
		// check beyond the caller being authenticated as a pharmacy,
		// enforced at the route layer.
	}

	if task.Status == model.TaskStatusCompleted {
		err := apierror.New(apierror.Conflict, "a Completed Task cannot be aborted")
		e.auditLocked(task.For, "abort", caller.String(), task.PrescriptionID, model.AuditOutcomeMinorFailure, err.Error())
		return err
	}

	e.store.DeleteKbvBinary(task.Input.EPrescription)
	e.store.DeleteKbvBundle(task.Input.PatientReceipt)
	if task.Output.Receipt != "" {
		e.store.DeleteErxBundle(task.Output.Receipt)
	}
	e.store.DeleteCommunicationsForTask(taskID)
	if dispense, ok := e.store.FindMedicationDispenseByPrescription(task.PrescriptionID); ok {
		e.store.DeleteMedicationDispense(dispense.ID)
	}

	mut := h.GetMut(now)
	mut.Status = model.TaskStatusCancelled
	mut.LastModified = now

	e.auditLocked(task.For, "abort", caller.String(), task.PrescriptionID, model.AuditOutcomeSuccess, "")
	return nil
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

// audit builds and appends an AuditEvent without assuming the caller
// already holds the store's write lock.
func (e *Engine) audit(kvnr, subType, agent, prescriptionID string, outcome model.AuditOutcome, text string) {
	e.store.Lock()
	defer e.store.Unlock()
	e.auditLocked(kvnr, subType, agent, prescriptionID, outcome, text)
}

// auditLocked appends an AuditEvent; the caller must already hold the
// store's write lock.
func (e *Engine) auditLocked(kvnr, subType, agent, prescriptionID string, outcome model.AuditOutcome, text string) {
	id, err := randomTaskID()
	if err != nil {
		id = fmt.Sprintf("audit-%d", e.clock().UnixNano())
	}
	e.store.AppendAuditEvent(model.AuditEvent{
		ID:       id,
		KVNR:     kvnr,
		SubType:  subType,
		Action:   auditActionFor(subType),
		Recorded: e.clock(),
		Outcome:  outcome,
		Agent:    agent,
		Source:   "self",
		Entity: model.AuditEntity{
			What:        fmt.Sprintf("Task/%s", kvnr),
			Name:        kvnr,
			Description: prescriptionID,
		},
		Text: text,
	})
}

func auditActionFor(subType string) model.AuditAction {
	switch subType {
	case "create":
		return model.AuditActionCreate
	case "abort":
		return model.AuditActionDelete
	default:
		return model.AuditActionUpdate
	}
}
