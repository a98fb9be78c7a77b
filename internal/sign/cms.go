package sign

import (
	"encoding/asn1"
	"time"
)

// oidSigningTime is the CMS authenticated-attribute OID (RFC 5652
// §11.3) carrying the moment a SignerInfo was produced.
var oidSigningTime = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

type cmsContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type cmsSignedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue `asn1:"set"`
	EncapContentInfo asn1.RawValue
	Rest             asn1.RawValue `asn1:"optional"`
}

type cmsSignerInfo struct {
	Version         int
	Sid             asn1.RawValue
	DigestAlgorithm asn1.RawValue
	SignedAttrs     []cmsAttribute `asn1:"optional,tag:0"`
}

type cmsAttribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// cmsSigningTime performs a best-effort walk of a CMS SignedData
// envelope to recover the signingTime authenticated attribute of its
// first SignerInfo. It returns ok=false on any structural surprise
// rather than erroring, since callers treat the signing time as an
// optimisation over using the verification wall-clock, not as a
// prerequisite for signature validity itself.
func cmsSigningTime(raw []byte) (time.Time, bool) {
	var ci cmsContentInfo
	if _, err := asn1.Unmarshal(raw, &ci); err != nil {
		return time.Time{}, false
	}

	var sd cmsSignedData
	if _, err := asn1.UnmarshalWithParams(ci.Content.Bytes, &sd, ""); err != nil {
		return time.Time{}, false
	}

	// signerInfos is the trailing SET OF SignerInfo inside SignedData;
	// Rest carries it (plus any optional certificates/crls fields this
	// minimal struct does not model individually).
	var signerInfos []asn1.RawValue
	if _, err := asn1.UnmarshalWithParams(sd.Rest.FullBytes, &signerInfos, "set"); err != nil {
		return time.Time{}, false
	}
	if len(signerInfos) == 0 {
		return time.Time{}, false
	}

	var si cmsSignerInfo
	if _, err := asn1.Unmarshal(signerInfos[0].FullBytes, &si); err != nil {
		return time.Time{}, false
	}

	for _, attr := range si.SignedAttrs {
		if !attr.Type.Equal(oidSigningTime) || len(attr.Values) == 0 {
			continue
		}
		var t time.Time
		if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &t); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
