package model

import "fmt"

// ParticipantKind distinguishes the two shapes a ParticipantID can take.
type ParticipantKind int

const (
	// ParticipantKVNR is an insured person identified by a 10-character KVNR.
	ParticipantKVNR ParticipantKind = iota
	// ParticipantTelematikID is a pharmacy or other institution.
	ParticipantTelematikID
)

// ParticipantID is a tagged union: either a patient's KVNR or an
// institution's Telematik-ID. Exactly one of the two forms is ever
// populated; use Kind to discriminate.
type ParticipantID struct {
	Kind  ParticipantKind
	Value string
}

// NewKVNR builds a KVNR-tagged ParticipantID.
func NewKVNR(kvnr string) ParticipantID {
	return ParticipantID{Kind: ParticipantKVNR, Value: kvnr}
}

// NewTelematikID builds a Telematik-ID-tagged ParticipantID.
func NewTelematikID(id string) ParticipantID {
	return ParticipantID{Kind: ParticipantTelematikID, Value: id}
}

// Equal reports whether p and other identify the same participant.
func (p ParticipantID) Equal(other ParticipantID) bool {
	return p.Kind == other.Kind && p.Value == other.Value
}

func (p ParticipantID) String() string {
	switch p.Kind {
	case ParticipantKVNR:
		return fmt.Sprintf("kvnr:%s", p.Value)
	case ParticipantTelematikID:
		return fmt.Sprintf("telematik-id:%s", p.Value)
	default:
		return fmt.Sprintf("unknown:%s", p.Value)
	}
}

// ProfessionOID enumerates the OIDs carried in the access-token's
// profession_oid claim.
type ProfessionOID string

const (
	ProfessionArzt               ProfessionOID = "1.2.276.0.76.4.30"
	ProfessionZahnarzt           ProfessionOID = "1.2.276.0.76.4.31"
	ProfessionPraxisArzt         ProfessionOID = "1.2.276.0.76.4.33"
	ProfessionPraxisZahnarzt     ProfessionOID = "1.2.276.0.76.4.34"
	ProfessionKrankenhaus        ProfessionOID = "1.2.276.0.76.4.32"
	ProfessionOeffentlicheApo    ProfessionOID = "1.2.276.0.76.4.54"
	ProfessionKrankenhausApo     ProfessionOID = "1.2.276.0.76.4.55"
	ProfessionBundeswehrApo      ProfessionOID = "1.2.276.0.76.4.56"
	ProfessionVersicherter       ProfessionOID = "1.2.276.0.76.4.49"
)

// IsPhysician reports whether oid belongs to a prescriber role allowed to
// create/activate Tasks.
func (oid ProfessionOID) IsPhysician() bool {
	switch oid {
	case ProfessionArzt, ProfessionZahnarzt, ProfessionPraxisArzt,
		ProfessionPraxisZahnarzt, ProfessionKrankenhaus:
		return true
	}
	return false
}

// IsPharmacy reports whether oid belongs to a dispenser role allowed to
// accept/reject/close Tasks.
func (oid ProfessionOID) IsPharmacy() bool {
	switch oid {
	case ProfessionOeffentlicheApo, ProfessionKrankenhausApo, ProfessionBundeswehrApo:
		return true
	}
	return false
}

// IsInsured reports whether oid identifies a patient.
func (oid ProfessionOID) IsInsured() bool {
	return oid == ProfessionVersicherter
}
