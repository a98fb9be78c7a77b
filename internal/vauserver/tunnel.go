// Package vauserver wires the VAU confidential channel onto a real HTTP
// listener: it terminates POST /VAU/{user-pseudonym}, decrypts the ECIES
// envelope, hands the recovered inner HTTP request to the route dispatcher,
// and re-encrypts whatever comes back with the request's own response key.
package vauserver

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/erx-fd/erx-server/internal/innerhttp"
	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/sched"
	"github.com/erx-fd/erx-server/internal/telemetry"
	"github.com/erx-fd/erx-server/internal/vau"
)

// Dispatcher is the inner route surface the tunnel hands decoded requests
// to; internal/api.Router satisfies this.
type Dispatcher interface {
	Handle(ctx context.Context, req *innerhttp.Request) (*innerhttp.Response, error)
}

// Tunnel is the http.Handler bound to the public VAU endpoint.
type Tunnel struct {
	PrivateKey     *vau.PrivateKey
	Pseudonyms     *vau.PseudonymGenerator
	Router         Dispatcher
	RequestTimeout time.Duration
	Sched          *sched.Scheduler
	Log            logger.Logger
}

// ServeHTTP implements the outer VAU wire contract: the HTTP status and
// body here carry only transport-level outcomes (malformed envelope,
// unreadable body); every application-level outcome - including an
// expired bearer token - is carried inside the encrypted inner response,
// and the outer call still answers 200.
func (t *Tunnel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pseudonym := strings.TrimPrefix(r.URL.Path, "/VAU/")
	if pseudonym == "" || pseudonym == "0" {
		fresh, err := t.Pseudonyms.Generate()
		if err != nil {
			t.Log.Error("pseudonym generation failed", logger.Error(err))
			http.Error(w, "pseudonym unavailable", http.StatusInternalServerError)
			return
		}
		pseudonym = fresh
	} else if !t.Pseudonyms.Verify(pseudonym) {
		http.Error(w, "unknown user pseudonym", http.StatusForbidden)
		return
	}

	envelope, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable request body", http.StatusBadRequest)
		return
	}

	// A whole VAU request is the decrypt-heavy work this scheduler's
	// HighPrio bias exists for: holding the token across decrypt,
	// dispatch, and response encryption (not just the decrypt call)
	// gives it sustained priority over background PKI refresh loops for
	// as long as the request is in flight, rather than a few
	// microseconds of it.
	if t.Sched != nil {
		tok := t.Sched.AcquireHighPrio()
		defer tok.Release()
	}
	decryptStart := time.Now()
	plaintext, err := vau.Decrypt(t.PrivateKey, envelope)
	telemetry.VauDecryptDuration.Observe(time.Since(decryptStart).Seconds())
	if err != nil {
		telemetry.VauRequestsTotal.WithLabelValues("decrypt_failed").Inc()
		http.Error(w, "envelope rejected", http.StatusBadRequest)
		return
	}

	record, err := vau.ParseRecord(plaintext)
	if err != nil {
		telemetry.VauRequestsTotal.WithLabelValues("record_malformed").Inc()
		http.Error(w, "malformed record", http.StatusBadRequest)
		return
	}

	innerReq, err := innerhttp.DecodeRequest(record.InnerRequest)
	if err != nil {
		telemetry.VauRequestsTotal.WithLabelValues("inner_request_malformed").Inc()
		http.Error(w, "malformed inner request", http.StatusBadRequest)
		return
	}
	if record.AccessToken != "" {
		innerReq.Header.Set("Authorization", "Bearer "+record.AccessToken)
	}

	timeout := t.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	innerResp, err := t.Router.Handle(ctx, innerReq)
	if err != nil {
		telemetry.VauRequestsTotal.WithLabelValues("handler_error").Inc()
		http.Error(w, "inner dispatch failed", http.StatusInternalServerError)
		return
	}

	wire, err := innerhttp.Encode(innerResp)
	if err != nil {
		telemetry.VauRequestsTotal.WithLabelValues("inner_response_encode_failed").Inc()
		http.Error(w, "inner response encoding failed", http.StatusInternalServerError)
		return
	}

	payload := vau.EncodeResponsePayload(record.RequestID, wire)

	encryptStart := time.Now()
	sealed, err := vau.EncryptResponse(record.ResponseKey, payload)
	telemetry.VauEncryptDuration.Observe(time.Since(encryptStart).Seconds())
	if err != nil {
		telemetry.VauRequestsTotal.WithLabelValues("encrypt_failed").Inc()
		http.Error(w, "response sealing failed", http.StatusInternalServerError)
		return
	}

	telemetry.VauRequestsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Userpseudonym", pseudonym)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sealed)
}
