// Package go2tv binds the adapter contracts to the go2tv library.
package go2tv

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"

	"go2tv.app/render-bridge/internal/adapters"
)

// Bundle wires all go2tv-backed adapters in one place.
type Bundle struct {
	Discovery       adapters.Discovery
	CastFactory     adapters.CastFactory
	DLNAFactory     adapters.DLNAFactory
	CallbackServers adapters.CallbackServerFactory
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:       discoveryAdapter{},
		CastFactory:     castFactory{},
		DLNAFactory:     dlnaFactory{},
		CallbackServers: callbackServerFactory{},
	}
}

type discoveryAdapter struct{}

func (discoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (discoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type castFactory struct{}

// *castprotocol.CastClient satisfies adapters.CastClient directly.
func (castFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type dlnaFactory struct{}

func (dlnaFactory) NewTVPayload(o *soapcalls.Options) (adapters.DLNAPayload, error) {
	payload, err := soapcalls.NewTVPayload(o)
	if err != nil {
		return nil, err
	}
	return &tvPayload{payload: payload}, nil
}

// tvPayload exposes the MediaURL field of soapcalls.TVPayload as a setter.
type tvPayload struct {
	payload *soapcalls.TVPayload
}

func (p *tvPayload) SendtoTV(action string) error {
	return p.payload.SendtoTV(action)
}

func (p *tvPayload) GetTransportInfo() ([]string, error) {
	return p.payload.GetTransportInfo()
}

func (p *tvPayload) GetPositionInfo() ([]string, error) {
	return p.payload.GetPositionInfo()
}

func (p *tvPayload) ListenAddress() string {
	return p.payload.ListenAddress()
}

func (p *tvPayload) SetContext(ctx context.Context) {
	p.payload.SetContext(ctx)
}

func (p *tvPayload) SetMediaURL(mediaURL string) {
	p.payload.MediaURL = mediaURL
}

func (p *tvPayload) RawPayload() *soapcalls.TVPayload {
	return p.payload
}

type callbackServerFactory struct{}

func (callbackServerFactory) NewCallbackServer(listenAddr string) adapters.CallbackServer {
	return httphandlers.NewServer(listenAddr)
}

var (
	_ adapters.Discovery             = discoveryAdapter{}
	_ adapters.CastFactory           = castFactory{}
	_ adapters.DLNAFactory           = dlnaFactory{}
	_ adapters.CallbackServerFactory = callbackServerFactory{}
)
