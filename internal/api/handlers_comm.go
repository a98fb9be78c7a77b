package api

import (
	"encoding/json"
	"net/http"

	"github.com/erx-fd/erx-server/internal/apierror"
	"github.com/erx-fd/erx-server/internal/model"
)

// communicationCreateRequest is the body of POST /Communication.
type communicationCreateRequest struct {
	Kind      model.CommunicationKind `json:"kind"`
	Recipient model.ParticipantID     `json:"recipient"`
	BasedOn   model.TaskBasis         `json:"based_on"`
	Content   string                  `json:"content"`
}

func (r *Router) handleCommunicationCreate(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())

	var body communicationCreateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, apierror.Wrap(apierror.BadRequest, "malformed request body", err))
		return
	}

	c, err := r.comm.Create(ac.Participant, body.Kind, body.Recipient, body.BasedOn, body.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (r *Router) handleCommunicationGet(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	id := req.PathValue("id")

	c, err := r.comm.Get(id, ac.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (r *Router) handleCommunicationDelete(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())
	id := req.PathValue("id")

	if err := r.comm.Delete(id, ac.Participant); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleCommunicationList(w http.ResponseWriter, req *http.Request) {
	ac, _ := authFromContext(req.Context())

	r.store.RLock()
	list := r.store.ListCommunicationsForParticipant(ac.Participant)
	r.store.RUnlock()
	writeJSON(w, http.StatusOK, list)
}
