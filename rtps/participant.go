package rtps

import (
	"time"
)

// BuiltinEndpointSet is a bitmask of the NN_DISC_BUILTIN_ENDPOINT_* /
// NN_BUILTIN_ENDPOINT_* bits below: "allows a participant to indicate that it
// only contains a subset of the possible builtin endpoints".
type BuiltinEndpointSet uint32

const (
	BuiltinEndpointParticipantAnnouncer      BuiltinEndpointSet = 1 << 0
	BuiltinEndpointParticipantDetector       BuiltinEndpointSet = 1 << 1
	BuiltinEndpointPublicationAnnouncer      BuiltinEndpointSet = 1 << 2
	BuiltinEndpointPublicationDetector       BuiltinEndpointSet = 1 << 3
	BuiltinEndpointSubscriptionAnnouncer     BuiltinEndpointSet = 1 << 4
	BuiltinEndpointSubscriptionDetector      BuiltinEndpointSet = 1 << 5
	BuiltinEndpointParticipantProxyAnnouncer BuiltinEndpointSet = 1 << 6 // undefined meaning
	BuiltinEndpointParticipantProxyDetector  BuiltinEndpointSet = 1 << 7 // undefined meaning
	BuiltinEndpointParticipantStateAnnouncer BuiltinEndpointSet = 1 << 8 // undefined meaning
	BuiltinEndpointParticipantStateDetector  BuiltinEndpointSet = 1 << 9 // undefined meaning
	BuiltinEndpointParticipantMessageWriter  BuiltinEndpointSet = 1 << 10
	BuiltinEndpointParticipantMessageReader  BuiltinEndpointSet = 1 << 11
	// Security toggles add four further builtin-endpoint bits above the WLP range.
	BuiltinEndpointParticipantSecureWriter BuiltinEndpointSet = 1 << 16
	BuiltinEndpointParticipantSecureReader BuiltinEndpointSet = 1 << 17
	BuiltinEndpointSecureStatelessWriter   BuiltinEndpointSet = 1 << 18
	BuiltinEndpointSecureStatelessReader   BuiltinEndpointSet = 1 << 19
)

// ParticipantAttributes describes the local participant as its owning RTPS
// participant reports it; PDP copies these fields into the local
// ParticipantProxyData at Init. Remote announcements are not decoded into
// this type: the PL_CDR parameter list decodes straight into a
// ParticipantProxyData.
type ParticipantAttributes struct {
	ProtoVer         ProtoVersion
	VendorID         VendorID
	GUIDPrefix       GUIDPrefix
	ExpectsInlineQoS bool
	DefaultUcastLoc  Locator
	DefaultMcastLoc  Locator
	MetaUcastLoc     Locator
	MetaMcastLoc     Locator
	LeaseDuration    time.Duration
	BuiltinEndpoints BuiltinEndpointSet
	ParticipantName  string
}
