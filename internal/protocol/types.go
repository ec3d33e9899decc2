package protocol

// OperationType is the one-byte tag that opens every datagram sent to the grabber.
type OperationType uint8

const (
	OperationTypeNone OperationType = iota
	OperationTypeGrabbableStateChanged
	OperationTypeConnectConsoleUserServer
	OperationTypeSystemPreferencesUpdated
	OperationTypeFrontmostApplicationChanged
	OperationTypeInputSourceChanged
)

// String returns the snake_case name, also used as a metric label.
func (t OperationType) String() string {
	switch t {
	case OperationTypeGrabbableStateChanged:
		return "grabbable_state_changed"
	case OperationTypeConnectConsoleUserServer:
		return "connect_console_user_server"
	case OperationTypeSystemPreferencesUpdated:
		return "system_preferences_updated"
	case OperationTypeFrontmostApplicationChanged:
		return "frontmost_application_changed"
	case OperationTypeInputSourceChanged:
		return "input_source_changed"
	default:
		return "none"
	}
}

// Fixed buffer sizes for string fields, including the terminating NUL.
const (
	BundleIdentifierSize = 256
	FilePathSize         = 1024
	InputSourceFieldSize = 256
)

// GrabbableState describes whether the grabber may seize a device.
type GrabbableState uint8

const (
	GrabbableStateNone GrabbableState = iota
	GrabbableStateGrabbable
	GrabbableStateUngrabbableTemporarily
	GrabbableStateUngrabbablePermanently
	GrabbableStateDeviceError
)

// UngrabbableTemporarilyReason qualifies GrabbableStateUngrabbableTemporarily.
type UngrabbableTemporarilyReason uint8

const (
	UngrabbableReasonNone UngrabbableTemporarilyReason = iota
	UngrabbableReasonKeyRepeating
	UngrabbableReasonModifierKeyPressed
	UngrabbableReasonPointingButtonPressed
)

// GrabbableStateValue is the fixed record carried by GrabbableStateChanged.
type GrabbableStateValue struct {
	RegistryEntryID uint64
	State           GrabbableState
	Reason          UngrabbableTemporarilyReason
	TimeStamp       uint64
}

// SystemPreferences is the fixed record carried by SystemPreferencesUpdated.
type SystemPreferences struct {
	KeyboardFnState      bool
	SwipeScrollDirection bool
	KeyboardType         uint32
}

// Message is one of the fixed-layout records the observer sends to the grabber.
// The set is closed: only the types in this package implement it.
type Message interface {
	OperationType() OperationType
	appendFields(b []byte, policy StringPolicy) ([]byte, error)
}

// GrabbableStateChanged reports a device's grabbable state.
type GrabbableStateChanged struct {
	GrabbableState GrabbableStateValue
}

// ConnectConsoleUserServer announces the console user's server process.
type ConnectConsoleUserServer struct {
	PID int32
}

// SystemPreferencesUpdated forwards the keyboard-related system preferences.
type SystemPreferencesUpdated struct {
	SystemPreferences SystemPreferences
}

// FrontmostApplicationChanged reports the application that now has focus.
type FrontmostApplicationChanged struct {
	BundleIdentifier string
	FilePath         string
}

// InputSourceChanged reports the active input source. Empty fields are absent
// and encode as an all-zero buffer.
type InputSourceChanged struct {
	Language      string
	InputSourceID string
	InputModeID   string
}

func (GrabbableStateChanged) OperationType() OperationType {
	return OperationTypeGrabbableStateChanged
}

func (ConnectConsoleUserServer) OperationType() OperationType {
	return OperationTypeConnectConsoleUserServer
}

func (SystemPreferencesUpdated) OperationType() OperationType {
	return OperationTypeSystemPreferencesUpdated
}

func (FrontmostApplicationChanged) OperationType() OperationType {
	return OperationTypeFrontmostApplicationChanged
}

func (InputSourceChanged) OperationType() OperationType {
	return OperationTypeInputSourceChanged
}
