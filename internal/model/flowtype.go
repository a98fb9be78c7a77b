package model

// FlowType identifies the kind of prescription workflow a Task belongs to.
// The numbering follows the gematik e-Rx catalogue; 160-169 cover GKV
// (statutory insurance) flows, 200-209 the PKV (private insurance) mirror.
type FlowType int

const (
	FlowTypeDrugsGKV         FlowType = 160 // Muster 16: drugs
	FlowTypeSupplies         FlowType = 161 // medical supplies
	FlowTypeRemedy           FlowType = 162 // remedies (Heilmittel)
	FlowTypeSubstitution     FlowType = 163 // substitution prescription
	FlowTypeMVODrugsGKV      FlowType = 165 // multi-part (MVO) drugs
	FlowTypeBTMDrugsGKV      FlowType = 166 // narcotics (BTM) drugs
	FlowTypeTPrescriptionGKV FlowType = 167 // T-prescription (thalidomide class)
	FlowTypeMVOSubstitution  FlowType = 168 // multi-part substitution
	FlowTypeDirectGKV        FlowType = 169 // direct dispense, no pharmacy lookup
	FlowTypeDrugsPKV         FlowType = 200 // PKV mirror of 160
	FlowTypeDirectPKV        FlowType = 209 // PKV mirror of 169
)

var known = map[FlowType]bool{
	FlowTypeDrugsGKV: true, FlowTypeSupplies: true, FlowTypeRemedy: true,
	FlowTypeSubstitution: true, FlowTypeMVODrugsGKV: true, FlowTypeBTMDrugsGKV: true,
	FlowTypeTPrescriptionGKV: true, FlowTypeMVOSubstitution: true, FlowTypeDirectGKV: true,
	FlowTypeDrugsPKV: true, FlowTypeDirectPKV: true,
}

// Known reports whether ft is one of the catalogued flow types.
func (ft FlowType) Known() bool { return known[ft] }

// IsPKV reports whether the flow type belongs to the private-insurance
// catalogue (200-209) rather than the statutory GKV one (160-169).
func (ft FlowType) IsPKV() bool { return ft >= 200 }
