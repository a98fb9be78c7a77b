// Package api implements route dispatch over the inner HTTP request the
// VAU tunnel decrypts: per-resource handlers, bearer-token
// authorization, content negotiation, and search-parameter handling.
// Routes are registered by hand on a plain net/http.ServeMux, with a
// wire<->domain conversion boundary and a single error-response helper
// every handler funnels through — generalized from net/http's own
// request/response types to the plaintext innerhttp.Request/Response
// pair the VAU layer hands it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/erx-fd/erx-server/internal/apierror"
	"github.com/erx-fd/erx-server/internal/audit"
	"github.com/erx-fd/erx-server/internal/comm"
	"github.com/erx-fd/erx-server/internal/innerhttp"
	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/model"
	"github.com/erx-fd/erx-server/internal/pki"
	"github.com/erx-fd/erx-server/internal/sign"
	"github.com/erx-fd/erx-server/internal/state"
	"github.com/erx-fd/erx-server/internal/token"
	"github.com/erx-fd/erx-server/internal/workflow"
)

// Router dispatches every route inside the VAU tunnel.
type Router struct {
	mux      *http.ServeMux
	verifier *token.Verifier
	workflow *workflow.Engine
	comm     *comm.Engine
	audit    *audit.Reader
	store    *state.Store
	pki      *pki.Store
	signer   *sign.Signer
	log      logger.Logger
}

// Deps bundles every collaborator Router needs, so construction reads
// as one call instead of a long positional parameter list.
type Deps struct {
	Verifier *token.Verifier
	Workflow *workflow.Engine
	Comm     *comm.Engine
	Audit    *audit.Reader
	Store    *state.Store
	Pki      *pki.Store
	Signer   *sign.Signer
	Log      logger.Logger
}

// NewRouter builds a Router with every route registered.
func NewRouter(d Deps) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		verifier: d.Verifier,
		workflow: d.Workflow,
		comm:     d.Comm,
		audit:    d.Audit,
		store:    d.Store,
		pki:      d.Pki,
		signer:   d.Signer,
		log:      d.Log,
	}
	r.register()
	return r
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /metadata", r.handleMetadata)

	r.mux.HandleFunc("POST /Task/$create", r.authenticated(withContentTypeCheck(r.handleTaskCreate)))
	r.mux.HandleFunc("POST /Task/{id}/$activate", r.authenticated(withContentTypeCheck(r.handleTaskActivate)))
	r.mux.HandleFunc("POST /Task/{id}/$accept", r.authenticated(r.handleTaskAccept))
	r.mux.HandleFunc("POST /Task/{id}/$reject", r.authenticated(r.handleTaskReject))
	r.mux.HandleFunc("POST /Task/{id}/$close", r.authenticated(withContentTypeCheck(r.handleTaskClose)))
	r.mux.HandleFunc("POST /Task/{id}/$abort", r.authenticated(r.handleTaskAbort))
	r.mux.HandleFunc("GET /Task", r.authenticated(r.handleTaskList))
	r.mux.HandleFunc("GET /Task/{id}", r.authenticated(r.handleTaskGet))
	r.mux.HandleFunc("GET /Task/{id}/_history/{version}", r.authenticated(r.handleTaskHistory))

	r.mux.HandleFunc("GET /Communication", r.authenticated(r.handleCommunicationList))
	r.mux.HandleFunc("POST /Communication", r.authenticated(withContentTypeCheck(r.handleCommunicationCreate)))
	r.mux.HandleFunc("GET /Communication/{id}", r.authenticated(r.handleCommunicationGet))
	r.mux.HandleFunc("DELETE /Communication/{id}", r.authenticated(r.handleCommunicationDelete))

	r.mux.HandleFunc("GET /MedicationDispense", r.authenticated(r.handleMedicationDispenseList))
	r.mux.HandleFunc("GET /MedicationDispense/{id}", r.authenticated(r.handleMedicationDispenseGet))

	r.mux.HandleFunc("GET /AuditEvent", r.authenticated(r.handleAuditEventList))
	r.mux.HandleFunc("GET /AuditEvent/{id}", r.authenticated(r.handleAuditEventGet))

	r.mux.HandleFunc("GET /Device", r.handleDevice)
	r.mux.HandleFunc("GET /Device/{id}", r.handleDevice)

	r.mux.HandleFunc("GET /CertList", r.handleCertList)
	r.mux.HandleFunc("GET /OCSPList", r.handleOCSPList)
	r.mux.HandleFunc("GET /TSL.xml", r.handleTSLXML)
	r.mux.HandleFunc("GET /TSL.sha2", r.handleTSLSha2)
	r.mux.HandleFunc("GET /Random", r.handleRandom)
	r.mux.HandleFunc("GET /Health", r.handleHealth)
}

// Handle converts the VAU layer's decoded plaintext request into a
// standard net/http request, dispatches it through the registered
// routes, and converts the captured response back into the plaintext
// wire form the VAU layer encrypts.
func (r *Router) Handle(ctx context.Context, req *innerhttp.Request) (*innerhttp.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.Target, bytes.NewReader(req.Body))
	if err != nil {
		return innerhttp.NewResponse(http.StatusBadRequest, []byte(`{"error":"malformed inner request"}`)), nil
	}
	httpReq.Header = req.Header.Clone()

	rec := newResponseRecorder()
	r.mux.ServeHTTP(rec, httpReq)
	resp := innerhttp.NewResponse(rec.status, rec.body.Bytes())
	resp.Header = rec.header
	return resp, nil
}

// responseRecorder is a minimal http.ResponseWriter capturing status,
// headers, and body without the net/http/httptest dependency a
// production dispatcher has no business importing.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (w *responseRecorder) Header() http.Header { return w.header }

func (w *responseRecorder) Write(b []byte) (int, error) { return w.body.Write(b) }

func (w *responseRecorder) WriteHeader(status int) { w.status = status }

// authContextKey is the context key carrying the verified caller's
// identity through a handler chain.
type authContextKey struct{}

type authContext struct {
	Profession  model.ProfessionOID
	Participant model.ParticipantID
}

// authenticated wraps h with bearer-token verification, rejecting the
// request before it reaches any domain logic when the token is
// missing or invalid.
func (r *Router) authenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		authz := req.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			writeError(w, apierror.New(apierror.Unauthorized, "missing bearer access token"))
			return
		}
		verified, err := r.verifier.Verify(authz, time.Now())
		if err != nil {
			writeError(w, apierror.Wrap(apierror.Unauthorized, "access token verification failed", err))
			return
		}
		ac := authContext{Profession: verified.Profession, Participant: verified.Participant}
		ctx := context.WithValue(req.Context(), authContextKey{}, ac)
		h(w, req.WithContext(ctx))
	}
}

func authFromContext(ctx context.Context) (authContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(authContext)
	return ac, ok
}

// writeError renders err as a FHIR OperationOutcome with the error
// kind's canonical HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := apierror.Internal
	message := err.Error()
	if apiErr, ok := apierror.As(err); ok {
		kind = apiErr.Kind
		message = apiErr.Message
	}
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"resourceType": "OperationOutcome",
		"issue": []map[string]interface{}{
			{"severity": "error", "code": kind.IssueType(), "diagnostics": message},
		},
	})
}

// writeJSON renders v as a successful FHIR-flavoured JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
