package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"

	"go2tv.app/render-bridge/internal/adapters"
	"go2tv.app/render-bridge/internal/domain"
)

type fakeCastFactory struct {
	mu      sync.Mutex
	clients []*fakeCastClient
	calls   int
	err     error
}

func (f *fakeCastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		f.clients = append(f.clients, &fakeCastClient{})
	}
	idx := min(f.calls, len(f.clients)-1)
	f.calls++
	c := f.clients[idx]
	c.mu.Lock()
	c.deviceAddr = deviceAddr
	c.mu.Unlock()
	return c, nil
}

type fakeCastClient struct {
	mu sync.Mutex

	deviceAddr  string
	connectErrs []error
	loadErr     error
	statusErr   error
	status      castprotocol.CastStatus

	connectCalls int
	loadCalls    int
	stopCalls    int
	closeCalls   int
	loadURL      string
	loadType     string
	loadLive     bool
	loadStart    int
}

func (f *fakeCastClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		idx := min(f.connectCalls-1, len(f.connectErrs)-1)
		return f.connectErrs[idx]
	}
	return nil
}

func (f *fakeCastClient) Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	f.loadURL = mediaURL
	f.loadType = contentType
	f.loadLive = live
	f.loadStart = startTime
	return f.loadErr
}

func (f *fakeCastClient) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeCastClient) GetStatus() (*castprotocol.CastStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st := f.status
	return &st, nil
}

func (f *fakeCastClient) Close(stopMedia bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeCastClient) counts() (connect, load, stop, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.loadCalls, f.stopCalls, f.closeCalls
}

type fakeDLNAFactory struct {
	mu       sync.Mutex
	payloads []*fakeDLNAPayload
	options  []soapcalls.Options
	err      error
}

func (f *fakeDLNAFactory) NewTVPayload(o *soapcalls.Options) (adapters.DLNAPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.options = append(f.options, *o)
	p := &fakeDLNAPayload{listenAddr: "192.168.1.5:3500"}
	if len(f.payloads) > 0 {
		p = f.payloads[0]
		if len(f.payloads) > 1 {
			f.payloads = f.payloads[1:]
		}
	}
	return p, nil
}

type fakeDLNAPayload struct {
	mu sync.Mutex

	listenAddr   string
	mediaURL     string
	actions      []string
	actionErr    map[string]error
	transport    []string
	transportErr error
	position     []string
}

func (f *fakeDLNAPayload) SendtoTV(action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return f.actionErr[action]
}

func (f *fakeDLNAPayload) GetTransportInfo() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transportErr != nil {
		return nil, f.transportErr
	}
	if f.transport == nil {
		return []string{"PLAYING", "OK", "1"}, nil
	}
	return append([]string{}, f.transport...), nil
}

func (f *fakeDLNAPayload) GetPositionInfo() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position == nil {
		return []string{"00:30:00", "00:00:02"}, nil
	}
	return append([]string{}, f.position...), nil
}

func (f *fakeDLNAPayload) ListenAddress() string { return f.listenAddr }

func (f *fakeDLNAPayload) SetContext(context.Context) {}

func (f *fakeDLNAPayload) SetMediaURL(mediaURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaURL = mediaURL
}

func (f *fakeDLNAPayload) RawPayload() *soapcalls.TVPayload {
	return &soapcalls.TVPayload{}
}

func (f *fakeDLNAPayload) actionCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.actions {
		if a == action {
			n++
		}
	}
	return n
}

func (f *fakeDLNAPayload) setTransport(v []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transport = v
	f.transportErr = err
}

type fakeServerFactory struct {
	mu       sync.Mutex
	servers  []*fakeServer
	startErr error
}

func (f *fakeServerFactory) NewCallbackServer(addr string) adapters.CallbackServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeServer{addr: addr, startErr: f.startErr}
	f.servers = append(f.servers, s)
	return s
}

func (f *fakeServerFactory) last() *fakeServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.servers) == 0 {
		return nil
	}
	return f.servers[len(f.servers)-1]
}

type fakeServer struct {
	mu       sync.Mutex
	addr     string
	startErr error
	screen   httphandlers.Screen
	started  bool
	stopped  bool
}

func (f *fakeServer) StartServer(serverStarted chan<- error, media, subtitles any, tvpayload *soapcalls.TVPayload, screen httphandlers.Screen) {
	f.mu.Lock()
	f.started = true
	f.screen = screen
	f.mu.Unlock()
	serverStarted <- f.startErr
}

func (f *fakeServer) StopServer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeServer) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeServer) emit(msg string) {
	f.mu.Lock()
	screen := f.screen
	f.mu.Unlock()
	screen.EmitMsg(msg)
}

type fakeResolver struct {
	devices map[string]domain.Device
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, target, protocol string, timeout time.Duration) (*domain.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	dev, ok := f.devices[target]
	if !ok {
		return nil, errors.New("device not found: " + target)
	}
	return &dev, nil
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

var (
	castDevice = domain.Device{ID: "dev_cast", Name: "Living Room TV", Address: "http://192.168.1.20:8009", Protocol: domain.ProtocolChromecast}
	dlnaDevice = domain.Device{ID: "dev_dlna", Name: "Bedroom TV", Address: "http://192.168.1.10:1400/desc.xml", Protocol: domain.ProtocolDLNA}
)

func testOptions() Options {
	return Options{PollEvery: 10 * time.Millisecond}
}
