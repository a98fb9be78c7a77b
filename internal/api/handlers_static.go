package api

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/erx-fd/erx-server/internal/apierror"
)

// handleMetadata serves the CapabilityStatement. Content unauthenticated
// and static; its internals are out of scope, so the route returns just
// enough shape for a client to discover the resources this server
// serves.
func (r *Router) handleMetadata(w http.ResponseWriter, req *http.Request) {
	format, ok := negotiateFormat(req)
	if !ok {
		writeError(w, apierror.New(apierror.NotAcceptable, "no acceptable representation for /metadata"))
		return
	}
	body := map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"fhirVersion":  "4.0.1",
		"format":       []string{"json", "xml"},
		"rest": []map[string]interface{}{
			{"mode": "server", "resource": []map[string]string{
				{"type": "Task"},
				{"type": "Communication"},
				{"type": "MedicationDispense"},
				{"type": "AuditEvent"},
				{"type": "Device"},
			}},
		},
	}
	if format == "xml" {
		w.Header().Set("Content-Type", "application/fhir+xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<CapabilityStatement xmlns="http://hl7.org/fhir"><status value="active"/></CapabilityStatement>`))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// handleDevice serves the server's static self-description.
func (r *Router) handleDevice(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resourceType": "Device",
		"status":       "active",
		"deviceName":   []map[string]string{{"name": "erx-fd", "type": "user-friendly-name"}},
	})
}

// handleCertList serves the JSON object of base64-DER certificate arrays
// the TSL and BNetzA-VL snapshots currently grant.
func (r *Router) handleCertList(w http.ResponseWriter, req *http.Request) {
	addRoots := []string{}
	caCerts := []string{}
	eeCerts := []string{}

	if tsl, err := r.pki.Tsl(); err == nil {
		for _, item := range tsl.ByDN {
			caCerts = append(caCerts, base64.StdEncoding.EncodeToString(item.Certificate.Raw))
		}
	}
	if bnetza, err := r.pki.Bnetza(); err == nil {
		for _, item := range bnetza.ByDN {
			addRoots = append(addRoots, base64.StdEncoding.EncodeToString(item.Certificate.Raw))
		}
	}
	if encCert := r.pki.EncCert(); encCert != nil {
		eeCerts = append(eeCerts, base64.StdEncoding.EncodeToString(encCert.Raw))
	}

	writeJSON(w, http.StatusOK, map[string][]string{
		"add_roots": addRoots,
		"ca_certs":  caCerts,
		"ee_certs":  eeCerts,
	})
}

// handleOCSPList serves the cached OCSP staples keyed by fingerprint.
func (r *Router) handleOCSPList(w http.ResponseWriter, req *http.Request) {
	cached := r.pki.AllOCSP()
	out := make(map[string]string, len(cached))
	for fingerprint, resp := range cached {
		out[fingerprint] = base64.StdEncoding.EncodeToString(resp.Raw)
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleTSLXML(w http.ResponseWriter, req *http.Request) {
	snap, err := r.pki.Tsl()
	if err != nil {
		writeError(w, apierror.Wrap(apierror.Internal, "TSL not yet available", err))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.RawXML)
}

func (r *Router) handleTSLSha2(w http.ResponseWriter, req *http.Request) {
	snap, err := r.pki.Tsl()
	if err != nil {
		writeError(w, apierror.Wrap(apierror.Internal, "TSL not yet available", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.SHA2)
}

// handleRandom returns 32 bytes of server-side randomness, base64
// encoded, for clients constructing the VAU handshake's pseudonym seed.
func (r *Router) handleRandom(w http.ResponseWriter, req *http.Request) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		writeError(w, apierror.Wrap(apierror.Internal, "could not generate randomness", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"random": base64.StdEncoding.EncodeToString(buf)})
}

// handleHealth reports liveness and the instant the check ran, so a
// load-balancer probe has a timestamp to compare freshness against.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
