package models

// StoreState is the connectivity state of the backing store as seen by the
// process. The zero value is StoreConnecting.
type StoreState int32

const (
	StoreConnecting StoreState = iota
	StoreConnected
	StoreDisconnected
	StoreError
)

func (s StoreState) String() string {
	switch s {
	case StoreConnecting:
		return "connecting"
	case StoreConnected:
		return "connected"
	case StoreDisconnected:
		return "disconnected"
	case StoreError:
		return "error"
	default:
		return "unknown"
	}
}

func (s StoreState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
