package castprotocol

// Well-known cast channel namespaces. These are protocol constants, never
// user input.
const (
	namespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	namespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	namespaceDeviceAuth = "urn:x-cast:com.google.cast.tp.deviceauth"
	namespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	namespaceMedia      = "urn:x-cast:com.google.cast.media"
)

const (
	defaultSender = "sender-0"
	defaultRecv   = "receiver-0"
)

// DefaultMediaReceiverAppID is the pre-registered default media receiver
// application. See https://gist.github.com/jloutsenhizer/8855258.
const DefaultMediaReceiverAppID = "CC1AD845"

// Inbound message tags. Every inbound payload carries exactly one of these
// in its "type" field; dispatch matches on the tag, never on dynamic name
// lookup.
const (
	typeReceiverStatus = "RECEIVER_STATUS"
	typeMediaStatus    = "MEDIA_STATUS"
	typeLaunchError    = "LAUNCH_ERROR"
	typeLoadFailed     = "LOAD_FAILED"
	typeLoadCancelled  = "LOAD_CANCELLED"
	typeInvalidRequest = "INVALID_REQUEST"
	typePing           = "PING"
	typePong           = "PONG"
	typeClose          = "CLOSE"
)

// Payload is implemented by every outbound message body.
type Payload interface {
	SetRequestId(id int)
}

// PayloadHeader is embedded in all JSON payloads.
type PayloadHeader struct {
	Type      string `json:"type"`
	RequestId int    `json:"requestId,omitempty"`
}

// SetRequestId implements the Payload interface.
func (p *PayloadHeader) SetRequestId(id int) {
	p.RequestId = id
}

var (
	connectHeader   = PayloadHeader{Type: "CONNECT"}
	closeHeader     = PayloadHeader{Type: "CLOSE"}
	getStatusHeader = PayloadHeader{Type: "GET_STATUS"}
	pingHeader      = PayloadHeader{Type: "PING"}
	pongHeader      = PayloadHeader{Type: "PONG"}
	launchHeader    = PayloadHeader{Type: "LAUNCH"}
	loadHeader      = PayloadHeader{Type: "LOAD"}
	stopHeader      = PayloadHeader{Type: "STOP"}
	playHeader      = PayloadHeader{Type: "PLAY"}
	pauseHeader     = PayloadHeader{Type: "PAUSE"}
	seekHeader      = PayloadHeader{Type: "SEEK"}
	volumeHeader    = PayloadHeader{Type: "SET_VOLUME"}
)

// LaunchRequest asks the receiver to start an application.
type LaunchRequest struct {
	PayloadHeader
	AppId string `json:"appId"`
}

// Volume is the device volume as reported and set on the receiver
// namespace.
type Volume struct {
	Level float64 `json:"level"`
	Muted bool    `json:"muted"`
}

// SetVolumeRequest changes the device volume.
type SetVolumeRequest struct {
	PayloadHeader
	Volume Volume `json:"volume"`
}

// ApplicationStatus describes one running receiver application.
type ApplicationStatus struct {
	AppId        string `json:"appId"`
	DisplayName  string `json:"displayName"`
	IsIdleScreen bool   `json:"isIdleScreen"`
	SessionId    string `json:"sessionId"`
	StatusText   string `json:"statusText"`
	TransportId  string `json:"transportId"`
}

// ReceiverStatus is the "status" object of a RECEIVER_STATUS message.
type ReceiverStatus struct {
	Applications []ApplicationStatus `json:"applications"`
	Volume       Volume              `json:"volume"`
}

// ReceiverStatusResponse is a RECEIVER_STATUS message.
type ReceiverStatusResponse struct {
	PayloadHeader
	Status ReceiverStatus `json:"status"`
}

// MediaMetadata carries display metadata for a media item.
type MediaMetadata struct {
	MetadataType int    `json:"metadataType"`
	Title        string `json:"title,omitempty"`
}

// MediaItemPayload describes the media the receiver should fetch.
type MediaItemPayload struct {
	ContentId   string         `json:"contentId"`
	ContentType string         `json:"contentType"`
	StreamType  string         `json:"streamType"`
	Duration    float64        `json:"duration,omitempty"`
	Metadata    *MediaMetadata `json:"metadata,omitempty"`
}

// LoadRequest is a LOAD command pointing the receiver at a media URL.
type LoadRequest struct {
	PayloadHeader
	Media       MediaItemPayload `json:"media"`
	CurrentTime float64          `json:"currentTime"`
	Autoplay    bool             `json:"autoplay"`
}

// MediaHeader addresses a command at an established media session.
type MediaHeader struct {
	PayloadHeader
	MediaSessionId int     `json:"mediaSessionId"`
	CurrentTime    float64 `json:"currentTime,omitempty"`
	ResumeState    string  `json:"resumeState,omitempty"`
}

// MediaStatus is one entry of a MEDIA_STATUS message.
type MediaStatus struct {
	MediaSessionId int              `json:"mediaSessionId"`
	PlayerState    string           `json:"playerState"`
	CurrentTime    float64          `json:"currentTime"`
	IdleReason     string           `json:"idleReason,omitempty"`
	Volume         Volume           `json:"volume"`
	Media          MediaItemPayload `json:"media"`
}

// MediaStatusResponse is a MEDIA_STATUS message.
type MediaStatusResponse struct {
	PayloadHeader
	Status []MediaStatus `json:"status"`
}
