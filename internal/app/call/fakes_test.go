package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	_ core.PeerConnection        = (*fakePC)(nil)
	_ core.PeerConnectionFactory = (*fakeFactory)(nil)
	_ core.SignalingChannel      = (*fakeChannel)(nil)
	_ core.Presenter             = (*recorder)(nil)
)

var (
	testOffer  = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	testAnswer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
)

// fakePC records operations in submission order and completes them on
// their own goroutine, like the real adapter does.
type fakePC struct {
	mu         sync.Mutex
	ops        []string
	closed     int
	failRemote error
	failAdd    error
	failAnswer error
	holdOffer  bool
	heldOffer  func(webrtc.SessionDescription, error)
	onICE      func(webrtc.ICECandidateInit)
	onState    func(core.TransportState)
}

func (p *fakePC) record(op string) {
	p.mu.Lock()
	p.ops = append(p.ops, op)
	p.mu.Unlock()
}

func (p *fakePC) CreateOffer(done func(webrtc.SessionDescription, error)) {
	p.record("create_offer")
	p.mu.Lock()
	if p.holdOffer {
		p.heldOffer = done
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	go done(testOffer, nil)
}

func (p *fakePC) CreateAnswer(_ webrtc.SessionDescription, done func(webrtc.SessionDescription, error)) {
	p.record("create_answer")
	p.mu.Lock()
	err := p.failAnswer
	p.mu.Unlock()
	if err != nil {
		go done(webrtc.SessionDescription{}, err)
		return
	}
	go done(testAnswer, nil)
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription, done func(error)) {
	p.record("set_remote:" + d.Type.String())
	p.mu.Lock()
	err := p.failRemote
	p.mu.Unlock()
	go done(err)
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit, done func(error)) {
	p.record("add:" + c.Candidate)
	p.mu.Lock()
	err := p.failAdd
	p.mu.Unlock()
	go done(err)
}

func (p *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePC) OnStateChange(fn func(core.TransportState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePC) Close() {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
}

func (p *fakePC) setState(st core.TransportState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(st)
}

func (p *fakePC) gather(c string) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: c})
}

func (p *fakePC) opLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

func (p *fakePC) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	pcs     []*fakePC
	prepare func(*fakePC)
	err     error
}

func (f *fakeFactory) NewPeerConnection(domain.CallIdentity) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pc := &fakePC{}
	if f.prepare != nil {
		f.prepare(pc)
	}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

func (f *fakeFactory) pc(i int) *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pcs[i]
}

type sent struct {
	event   string
	payload any
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (c *fakeChannel) Events() <-chan core.SignalingEvent { return nil }

func (c *fakeChannel) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{event, payload})
	return c.err
}

func (c *fakeChannel) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sent {
		if s.event == event {
			n++
		}
	}
	return n
}

func (c *fakeChannel) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, s := range c.sent {
		out = append(out, s.event)
	}
	return out
}

func (c *fakeChannel) first(event string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sent {
		if s.event == event {
			return s.payload, true
		}
	}
	return nil, false
}

type recorder struct {
	mu     sync.Mutex
	events []domain.CallEvent
}

func (r *recorder) OnCallEvent(ev domain.CallEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) forCall(id domain.CallID) []domain.CallEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CallEvent
	for _, ev := range r.events {
		if ev.Identity.CallID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last(id domain.CallID) (domain.CallEvent, bool) {
	evs := r.forCall(id)
	if len(evs) == 0 {
		return domain.CallEvent{}, false
	}
	return evs[len(evs)-1], true
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	reg     *Registry
	ch      *fakeChannel
	factory *fakeFactory
	rec     *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{ch: &fakeChannel{}, factory: &fakeFactory{}, rec: &recorder{}}
	h.reg = NewRegistry(cfg, h.ch, h.factory, h.rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.reg.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) state(t *testing.T) (domain.CallIdentity, domain.CallState, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return h.reg.Current(ctx)
}

func (h *harness) waitState(t *testing.T, id domain.CallID, want domain.CallState) {
	t.Helper()
	eventually(t, func() bool {
		ev, ok := h.rec.last(id)
		return ok && ev.State == want
	}, "call %s never reached %s", id, want)
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}

// assertLegal checks that the states reported for one call follow the table.
func assertLegal(t *testing.T, evs []domain.CallEvent) {
	t.Helper()
	prev := domain.StateIdle
	for _, ev := range evs {
		if !CanTransition(prev, ev.State) {
			t.Fatalf("illegal transition %s -> %s", prev, ev.State)
		}
		prev = ev.State
	}
}

var errBoom = errors.New("boom")
