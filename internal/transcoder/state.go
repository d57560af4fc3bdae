package transcoder

// State is the session pipeline state machine:
// Starting → Initializing → (Downloading) → Transcoding → Complete | Error.
// Downloading is observed only when the source is still being fetched.
type State int

const (
	StateStarting State = iota
	StateInitializing
	StateDownloading
	StateTranscoding
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateInitializing:
		return "initializing"
	case StateDownloading:
		return "downloading"
	case StateTranscoding:
		return "transcoding"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Status is a point-in-time snapshot of a running pipeline.
type Status struct {
	State        State   `json:"-"`
	StateName    string  `json:"state"`
	SegmentCount int     `json:"segmentCount"`
	BytesIn      int64   `json:"bytesIn"`
	BytesOut     int64   `json:"bytesOut"`
	Duration     float64 `json:"outputDuration"` // seconds committed
	Diagnostic   string  `json:"diagnostic,omitempty"`
}
