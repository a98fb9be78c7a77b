// Package fhir is the opaque item-stream façade over the FHIR XML/JSON
// wire formats. Its internals are intentionally thin: callers only need
// enough structure to pull the KVNR out of a KBV bundle and to produce a
// canonical JSON rendering of it for the patient-receipt artefact — the
// full codec is treated as an external collaborator whose internals are
// out of scope.
package fhir

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
)

// kvnrSystem is the FHIR identifier system URI gematik uses for the
// statutory-insurance KVNR on a KBV Patient resource.
const kvnrSystem = "http://fhir.de/sid/gkv/kvid-10"

type bundleXML struct {
	XMLName xml.Name    `xml:"Bundle"`
	Entries []entryXML  `xml:"entry"`
}

type entryXML struct {
	Patient *patientXML `xml:"resource>Patient"`
}

type patientXML struct {
	Identifiers []identifierXML `xml:"identifier"`
}

type identifierXML struct {
	System valueAttr `xml:"system"`
	Value  valueAttr `xml:"value"`
}

type valueAttr struct {
	Value string `xml:"value,attr"`
}

// ExtractPatientKVNR walks a KBV bundle's Patient entry looking for the
// GKV KVNR identifier and returns its value.
func ExtractPatientKVNR(kbvBundleXML []byte) (string, error) {
	var b bundleXML
	if err := xml.Unmarshal(kbvBundleXML, &b); err != nil {
		return "", fmt.Errorf("fhir: parse KBV bundle: %w", err)
	}
	for _, e := range b.Entries {
		if e.Patient == nil {
			continue
		}
		for _, id := range e.Patient.Identifiers {
			if id.System.Value == kvnrSystem && id.Value.Value != "" {
				return id.Value.Value, nil
			}
		}
	}
	return "", fmt.Errorf("fhir: KBV bundle carries no KVNR identifier")
}

// CanonicalPatientReceipt renders the raw KBV bundle XML bytes as the
// canonical JSON document the patient-receipt artefact is re-signed
// detached-JSON under: a minimal envelope carrying the source bytes,
// sorted-key and compact like every other canonical JSON document this
// server produces. The full XML->FHIR-JSON transcoding is the opaque
// façade's job and is not reproduced here.
func CanonicalPatientReceipt(kbvBundleXML []byte) ([]byte, error) {
	doc := map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "document",
		"sourceXML":    string(kbvBundleXML),
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("fhir: render canonical patient receipt: %w", err)
	}
	return out, nil
}
