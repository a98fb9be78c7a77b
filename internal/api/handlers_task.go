package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/erx-fd/erx-server/internal/apierror"
	"github.com/erx-fd/erx-server/internal/model"
	"github.com/erx-fd/erx-server/internal/workflow"
)

// taskCreateRequest is the body of POST /Task/$create.
type taskCreateRequest struct {
	FlowType model.FlowType `json:"flow_type"`
}

func (r *Router) handleTaskCreate(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())

	var body taskCreateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, apierror.Wrap(apierror.BadRequest, "malformed request body", err))
		return
	}

	task, err := r.workflow.Create(ac.Profession, ac.Participant.String(), body.FlowType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (r *Router) handleTaskActivate(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	taskID := req.PathValue("id")
	accessCode := req.URL.Query().Get("ac")

	kbvBinary, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, apierror.Wrap(apierror.BadRequest, "could not read request body", err))
		return
	}

	task, err := r.workflow.Activate(taskID, accessCode, ac.Participant.String(), kbvBinary)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (r *Router) handleTaskAccept(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	taskID := req.PathValue("id")
	accessCode := req.URL.Query().Get("ac")

	task, binary, err := r.workflow.Accept(taskID, accessCode, ac.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Task      model.Task      `json:"task"`
		KbvBinary model.KbvBinary `json:"e_prescription"`
	}{task, binary})
}

func (r *Router) handleTaskReject(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	taskID := req.PathValue("id")
	secret := req.URL.Query().Get("secret")

	task, err := r.workflow.Reject(taskID, secret, ac.Participant.String())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// taskCloseRequest is the body of POST /Task/{id}/$close.
type taskCloseRequest struct {
	MedicationDispense model.MedicationDispense `json:"medication_dispense"`
	ErxBundleContent   []byte                    `json:"erx_bundle_content"`
}

func (r *Router) handleTaskClose(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	taskID := req.PathValue("id")
	secret := req.URL.Query().Get("secret")

	var body taskCloseRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, apierror.Wrap(apierror.BadRequest, "malformed request body", err))
		return
	}

	erx, err := r.workflow.Close(taskID, secret, ac.Participant.String(), workflow.CloseInput{
		MedicationDispense: body.MedicationDispense,
		ErxBundleContent:   body.ErxBundleContent,
	}, r.signer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, erx)
}

func (r *Router) handleTaskAbort(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	taskID := req.PathValue("id")

	role, err := abortRoleFor(ac.Profession, ac.Participant)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := r.workflow.Abort(taskID, role, ac.Participant); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func abortRoleFor(profession model.ProfessionOID, participant model.ParticipantID) (workflow.AbortRole, error) {
	switch {
	case participant.Kind == model.ParticipantKVNR:
		return workflow.AbortByPatient, nil
	case profession.IsPharmacy():
		return workflow.AbortByPharmacy, nil
	case profession.IsPhysician():
		return workflow.AbortByPhysician, nil
	default:
		return 0, apierror.New(apierror.Forbidden, "caller's role may not abort a Task")
	}
}

func (r *Router) handleTaskGet(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	taskID := req.PathValue("id")

	r.store.RLock()
	task, ok := r.store.GetTask(taskID)
	r.store.RUnlock()
	if !ok {
		writeError(w, apierror.New(apierror.NotFound, "no such Task"))
		return
	}
	if !callerMaySeeTask(ac, task) {
		writeError(w, apierror.New(apierror.Forbidden, "caller may not view this Task"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (r *Router) handleTaskHistory(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	taskID := req.PathValue("id")
	versionID, err := strconv.ParseUint(req.PathValue("version"), 10, 64)
	if err != nil {
		writeError(w, apierror.New(apierror.BadRequest, "malformed version id"))
		return
	}

	r.store.RLock()
	h := r.store.TaskHistory(taskID)
	if h == nil {
		r.store.RUnlock()
		writeError(w, apierror.New(apierror.NotFound, "no such Task"))
		return
	}
	version, ok := h.GetVersion(versionID)
	r.store.RUnlock()
	if !ok {
		writeError(w, apierror.New(apierror.Gone, "that Task version is no longer retained"))
		return
	}
	if !callerMaySeeTask(ac, version.Resource) {
		writeError(w, apierror.New(apierror.Forbidden, "caller may not view this Task"))
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (r *Router) handleTaskList(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())

	statuses := statusFilter(req.URL.Query().Get("status"))
	var modified *dateFilter
	if raw := req.URL.Query().Get("modified"); raw != "" {
		if f, ok := parseDateParam(raw); ok {
			modified = &f
		}
	}

	r.store.RLock()
	all := r.store.ListTasks()
	r.store.RUnlock()

	matched := make([]model.Task, 0, len(all))
	for _, task := range all {
		if !callerMaySeeTask(ac, task) {
			continue
		}
		if len(statuses) > 0 && !statuses[string(task.Status)] {
			continue
		}
		if modified != nil && !modified.Matches(task.LastModified) {
			continue
		}
		matched = append(matched, task)
	}
	writeJSON(w, http.StatusOK, matched)
}

// callerMaySeeTask enforces the read-side visibility rule: the owning
// patient sees its own Tasks; any Telematik-ID caller (pharmacy or
// prescriber alike) sees Ready Tasks and Tasks it performs. No caller
// sees a Draft Task, since model.Task records no creating prescriber.
func callerMaySeeTask(ac authContext, task model.Task) bool {
	switch ac.Participant.Kind {
	case model.ParticipantKVNR:
		return task.For == ac.Participant.Value
	case model.ParticipantTelematikID:
		if task.Status == model.TaskStatusReady {
			return true
		}
		return task.PerformerTelematikID == ac.Participant.Value
	default:
		return false
	}
}
