package audit

import "strings"

// EventType is a closed set of known types plus custom values allowed by configuration.
type EventType struct {
	name   string
	custom bool
}

var (
	TypePayment = EventType{name: "payment"}
	TypeUser    = EventType{name: "user"}
	TypeILS     = EventType{name: "ils"}
	TypeSystem  = EventType{name: "system"}
)

var knownTypes = map[string]EventType{
	TypePayment.name: TypePayment,
	TypeUser.name:    TypeUser,
	TypeILS.name:     TypeILS,
	TypeSystem.name:  TypeSystem,
}

// CustomType returns a type outside the known set.
func CustomType(name string) EventType {
	return EventType{name: strings.ToLower(strings.TrimSpace(name)), custom: true}
}

// ParseEventType maps known names to their constants and anything else to a custom type.
func ParseEventType(name string) EventType {
	if t, ok := knownTypes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return CustomType(name)
}

func (t EventType) String() string { return t.name }
func (t EventType) IsCustom() bool { return t.custom }
func (t EventType) IsZero() bool   { return t.name == "" }

// Subtype narrows an event type. Like EventType it is closed with a custom escape.
type Subtype struct {
	name   string
	custom bool
}

var (
	SubtypePayment         = Subtype{name: "payment"}
	SubtypeNotifyHandler   = Subtype{name: "payment_notify_handler"}
	SubtypeResponseHandler = Subtype{name: "payment_response_handler"}
	SubtypeRegistration    = Subtype{name: "payment_registration"}
	SubtypeReceipt         = Subtype{name: "payment_receipt"}
	SubtypeReconciliation  = Subtype{name: "reconciliation"}
	SubtypeLogin           = Subtype{name: "login"}
	SubtypeLogout          = Subtype{name: "logout"}
)

var knownSubtypes = map[string]Subtype{
	SubtypePayment.name:         SubtypePayment,
	SubtypeNotifyHandler.name:   SubtypeNotifyHandler,
	SubtypeResponseHandler.name: SubtypeResponseHandler,
	SubtypeRegistration.name:    SubtypeRegistration,
	SubtypeReceipt.name:         SubtypeReceipt,
	SubtypeReconciliation.name:  SubtypeReconciliation,
	SubtypeLogin.name:           SubtypeLogin,
	SubtypeLogout.name:          SubtypeLogout,
}

func CustomSubtype(name string) Subtype {
	return Subtype{name: strings.ToLower(strings.TrimSpace(name)), custom: true}
}

func ParseSubtype(name string) Subtype {
	if s, ok := knownSubtypes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s
	}
	return CustomSubtype(name)
}

func (s Subtype) String() string { return s.name }
func (s Subtype) IsCustom() bool { return s.custom }
