package castprotocol

// CastStatus is the last-known playback snapshot, derived from receiver
// status messages.
type CastStatus struct {
	State          State
	PlayerState    string // "PLAYING", "PAUSED", "IDLE", "BUFFERING"
	CurrentTime    float64
	Duration       float64
	Volume         float64
	Muted          bool
	MediaTitle     string
	ContentType    string
	MediaSessionID int
	AppID          string
}
