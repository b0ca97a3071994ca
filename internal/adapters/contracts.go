// Package adapters declares the narrow contracts the relay engines need from
// go2tv, so they can be faked in tests.
package adapters

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"
)

// Discovery finds Chromecast and DLNA devices on the LAN.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// CastClient controls one Chromecast receiver.
type CastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	Stop() error
	GetStatus() (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

type CastFactory interface {
	NewCastClient(deviceAddr string) (CastClient, error)
}

// DLNAPayload is the SOAP control channel to one DLNA renderer for one
// media item.
type DLNAPayload interface {
	SendtoTV(action string) error
	GetTransportInfo() ([]string, error)
	GetPositionInfo() ([]string, error)
	ListenAddress() string
	SetContext(ctx context.Context)
	SetMediaURL(mediaURL string)
	RawPayload() *soapcalls.TVPayload
}

type DLNAFactory interface {
	NewTVPayload(o *soapcalls.Options) (DLNAPayload, error)
}

// CallbackServer receives GENA notifications from a DLNA renderer and
// forwards transport states to screen.
type CallbackServer interface {
	StartServer(serverStarted chan<- error, media, subtitles any, tvpayload *soapcalls.TVPayload, screen httphandlers.Screen)
	StopServer()
}

type CallbackServerFactory interface {
	NewCallbackServer(listenAddr string) CallbackServer
}
