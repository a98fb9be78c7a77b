package api

import (
	"net/http"

	"github.com/erx-fd/erx-server/internal/apierror"
)

func (r *Router) handleMedicationDispenseGet(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	id := req.PathValue("id")

	r.store.RLock()
	m, ok := r.store.GetMedicationDispense(id)
	r.store.RUnlock()
	if !ok {
		writeError(w, apierror.New(apierror.NotFound, "no such MedicationDispense"))
		return
	}
	if m.Subject != ac.Participant.Value && m.PerformerID != ac.Participant.Value {
		writeError(w, apierror.New(apierror.Forbidden, "caller may not view this MedicationDispense"))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (r *Router) handleMedicationDispenseList(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())

	r.store.RLock()
	all := r.store.ListMedicationDispenses()
	r.store.RUnlock()

	out := all[:0]
	for _, m := range all {
		if m.Subject == ac.Participant.Value || m.PerformerID == ac.Participant.Value {
			out = append(out, m)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleAuditEventGet(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	id := req.PathValue("id")

	ev, err := r.audit.Get(ac.Participant, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (r *Router) handleAuditEventList(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())

	events, err := r.audit.List(ac.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
