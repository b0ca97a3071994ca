package domain

// Device is a LAN media device a renderer can relay playback to.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Protocol  string `json:"protocol"`
	AudioOnly bool   `json:"audio_only"`
}

const (
	ProtocolChromecast = "chromecast"
	ProtocolDLNA       = "dlna"
)
