package call

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/wire"
	"github.com/pion/webrtc/v4"
)

func TestTransitionTable(t *testing.T) {
	states := []domain.CallState{
		domain.StateIdle, domain.StateRingingIn, domain.StateRingingOut,
		domain.StateNegotiating, domain.StateActive, domain.StateEnded, domain.StateFailed,
	}
	want := map[[2]domain.CallState]bool{
		{domain.StateIdle, domain.StateRingingIn}:         true,
		{domain.StateIdle, domain.StateRingingOut}:        true,
		{domain.StateRingingIn, domain.StateNegotiating}:  true,
		{domain.StateRingingIn, domain.StateEnded}:        true,
		{domain.StateRingingIn, domain.StateFailed}:       true,
		{domain.StateRingingOut, domain.StateNegotiating}: true,
		{domain.StateRingingOut, domain.StateEnded}:       true,
		{domain.StateRingingOut, domain.StateFailed}:      true,
		{domain.StateNegotiating, domain.StateActive}:     true,
		{domain.StateNegotiating, domain.StateEnded}:      true,
		{domain.StateNegotiating, domain.StateFailed}:     true,
		{domain.StateActive, domain.StateEnded}:           true,
		{domain.StateActive, domain.StateFailed}:          true,
	}
	for _, from := range states {
		for _, to := range states {
			got := CanTransition(from, to)
			if got != want[[2]domain.CallState{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
		if from.Terminal() {
			for _, to := range states {
				if CanTransition(from, to) {
					t.Errorf("terminal %s has exit to %s", from, to)
				}
			}
		} else if from != domain.StateIdle && !CanTransition(from, domain.StateFailed) {
			t.Errorf("%s cannot fail", from)
		}
	}
}

func TestOutgoingCallReachesActive(t *testing.T) {
	h := newHarness(t, Config{NewCallID: func() domain.CallID { return "c1" }})

	id, err := h.reg.Dial(context.Background(), "bob", domain.Video)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if id != "c1" {
		t.Fatalf("call id = %q", id)
	}
	eventually(t, func() bool { return h.ch.count(wire.EventOffer) == 1 }, "offer never sent")

	p, _ := h.ch.first(wire.EventOffer)
	offer := p.(wire.Offer)
	if offer.CallID != "c1" || offer.PeerID != "bob" || offer.MediaKind != domain.Video || offer.SDP != testOffer {
		t.Fatalf("unexpected offer %+v", offer)
	}

	h.reg.Deliver(core.CallAnswered{CallID: "c1", Answer: testAnswer})
	h.waitState(t, "c1", domain.StateNegotiating)

	pc := h.factory.pc(0)
	eventually(t, func() bool {
		ops := pc.opLog()
		return len(ops) == 2 && ops[1] == "set_remote:answer"
	}, "answer not applied: %v", pc.opLog())

	pc.setState(core.TransportConnected)
	h.waitState(t, "c1", domain.StateActive)

	_, st, ok := h.state(t)
	if !ok || st != domain.StateActive {
		t.Fatalf("registry state = %s, %v", st, ok)
	}
	assertLegal(t, h.rec.forCall("c1"))
}

func TestIncomingCallAppliesEarlyCandidatesInOrder(t *testing.T) {
	h := newHarness(t, Config{})

	h.reg.Deliver(core.IncomingCall{CallID: "c2", CallerID: "alice", MediaKind: domain.Audio, Offer: testOffer})
	for _, c := range []string{"a", "b", "c"} {
		h.reg.Deliver(core.IceCandidate{CallID: "c2", Candidate: webrtc.ICECandidateInit{Candidate: c}})
	}
	h.waitState(t, "c2", domain.StateRingingIn)
	pc := h.factory.pc(0)
	if ops := pc.opLog(); len(ops) != 0 {
		t.Fatalf("transport touched before accept: %v", ops)
	}

	h.reg.Decide(core.UserDecision{CallID: "c2", Accepted: true})
	eventually(t, func() bool { return h.ch.count(wire.EventAnswer) == 1 }, "answer never sent")

	want := []string{"set_remote:offer", "add:a", "add:b", "add:c", "create_answer"}
	if got := pc.opLog(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ops = %v, want %v", got, want)
	}

	// After the remote description is in, candidates go straight through.
	h.reg.Deliver(core.IceCandidate{CallID: "c2", Candidate: webrtc.ICECandidateInit{Candidate: "d"}})
	eventually(t, func() bool {
		ops := pc.opLog()
		return ops[len(ops)-1] == "add:d"
	}, "late candidate not applied: %v", pc.opLog())

	pc.setState(core.TransportConnected)
	h.waitState(t, "c2", domain.StateActive)
	assertLegal(t, h.rec.forCall("c2"))
}

func TestLocalCandidatesWaitForOffer(t *testing.T) {
	h := newHarness(t, Config{NewCallID: func() domain.CallID { return "c1" }})
	h.factory.prepare = func(p *fakePC) { p.holdOffer = true }

	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	pc := h.factory.pc(0)
	pc.gather("host1")
	pc.gather("host2")
	h.state(t)
	eventually(t, func() bool {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		return pc.heldOffer != nil
	}, "offer not requested")
	if n := h.ch.count(wire.EventIceCandidate); n != 0 {
		t.Fatalf("%d candidates sent before the offer", n)
	}

	pc.mu.Lock()
	done := pc.heldOffer
	pc.mu.Unlock()
	done(testOffer, nil)

	eventually(t, func() bool { return h.ch.count(wire.EventIceCandidate) == 2 }, "candidates not flushed")
	want := "offer,ice-candidate,ice-candidate"
	if got := strings.Join(h.ch.events(), ","); got != want {
		t.Fatalf("sent = %s, want %s", got, want)
	}
}

func TestDisconnectDuringRingingOutFails(t *testing.T) {
	h := newHarness(t, Config{
		DisconnectGrace: 30 * time.Millisecond,
		NewCallID:       func() domain.CallID { return "c3" },
	})
	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return h.ch.count(wire.EventOffer) == 1 }, "offer never sent")

	h.reg.Deliver(core.Disconnected{})
	h.waitState(t, "c3", domain.StateFailed)

	ev, _ := h.rec.last("c3")
	if ev.Err == nil || ev.Err.Kind != domain.TransportError {
		t.Fatalf("failure = %+v, want TransportError", ev.Err)
	}
	if n := h.factory.pc(0).closeCount(); n != 1 {
		t.Fatalf("peer connection closed %d times", n)
	}
	if _, _, ok := h.state(t); ok {
		t.Fatal("failed session still registered")
	}
	assertLegal(t, h.rec.forCall("c3"))
}

func TestReconnectWithinGraceKeepsCall(t *testing.T) {
	h := newHarness(t, Config{
		DisconnectGrace: 40 * time.Millisecond,
		NewCallID:       func() domain.CallID { return "c4" },
	})
	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	h.reg.Deliver(core.Disconnected{})
	h.reg.Deliver(core.Connected{})
	time.Sleep(80 * time.Millisecond)

	_, st, ok := h.state(t)
	if !ok || st != domain.StateRingingOut {
		t.Fatalf("state = %s (%v), want RINGING_OUT", st, ok)
	}
}

func TestLateOfferCallbackIsDiscarded(t *testing.T) {
	h := newHarness(t, Config{NewCallID: func() domain.CallID { return "c5" }})
	h.factory.prepare = func(p *fakePC) { p.holdOffer = true }

	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	pc := h.factory.pc(0)
	eventually(t, func() bool {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		return pc.heldOffer != nil
	}, "offer not requested")

	h.reg.Hangup("c5")
	h.waitState(t, "c5", domain.StateEnded)
	before := h.rec.total()

	pc.mu.Lock()
	done := pc.heldOffer
	pc.mu.Unlock()
	done(testOffer, nil)
	h.state(t)
	h.state(t)

	if n := h.ch.count(wire.EventOffer); n != 0 {
		t.Fatalf("offer sent after hangup")
	}
	// The peer never saw an offer, so no hangup goes out either.
	if n := h.ch.count(wire.EventHangup); n != 0 {
		t.Fatalf("hangup sent for a call the peer never heard of")
	}
	if h.rec.total() != before {
		t.Fatal("late callback produced events")
	}
	if pc.closeCount() != 1 {
		t.Fatalf("close count = %d", pc.closeCount())
	}
}

func TestRingTimeoutEndsIncomingCall(t *testing.T) {
	h := newHarness(t, Config{RingTimeout: 30 * time.Millisecond})

	h.reg.Deliver(core.IncomingCall{CallID: "c6", CallerID: "alice", MediaKind: domain.Audio, Offer: testOffer})
	h.waitState(t, "c6", domain.StateEnded)

	ev, _ := h.rec.last("c6")
	if ev.Reason != domain.ReasonTimeout {
		t.Fatalf("reason = %q", ev.Reason)
	}
	if h.ch.count(wire.EventHangup) != 1 {
		t.Fatalf("peer not notified: %v", h.ch.events())
	}
}

func TestDeclineSendsDecline(t *testing.T) {
	h := newHarness(t, Config{})

	h.reg.Deliver(core.IncomingCall{CallID: "c7", CallerID: "alice", MediaKind: domain.Audio, Offer: testOffer})
	h.reg.Decide(core.UserDecision{CallID: "c7", Accepted: false})
	h.waitState(t, "c7", domain.StateEnded)

	if h.ch.count(wire.EventDecline) != 1 {
		t.Fatalf("sent = %v", h.ch.events())
	}
	if h.factory.pc(0).closeCount() != 1 {
		t.Fatal("peer connection not released")
	}
}

func TestRemoteRefusalsEndRingingOut(t *testing.T) {
	cases := []struct {
		ev     func(domain.CallID) core.SignalingEvent
		reason domain.EndReason
	}{
		{func(id domain.CallID) core.SignalingEvent { return core.CallDeclined{CallID: id} }, domain.ReasonRemoteDeclined},
		{func(id domain.CallID) core.SignalingEvent { return core.CallBusy{CallID: id} }, domain.ReasonBusy},
		{func(domain.CallID) core.SignalingEvent { return core.PeerOffline{PeerID: "bob"} }, domain.ReasonPeerOffline},
		{func(id domain.CallID) core.SignalingEvent { return core.CallEnded{CallID: id} }, domain.ReasonRemoteHangup},
	}
	for i, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			id := domain.CallID(fmt.Sprintf("r%d", i))
			h := newHarness(t, Config{NewCallID: func() domain.CallID { return id }})
			if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
				t.Fatal(err)
			}
			eventually(t, func() bool { return h.ch.count(wire.EventOffer) == 1 }, "offer never sent")
			h.reg.Deliver(tc.ev(id))
			h.waitState(t, id, domain.StateEnded)
			ev, _ := h.rec.last(id)
			if ev.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", ev.Reason, tc.reason)
			}
			if h.ch.count(wire.EventHangup) != 0 {
				t.Fatal("remote-initiated end should not send hangup")
			}
		})
	}
}

func TestSetRemoteFailureFailsCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.factory.prepare = func(p *fakePC) { p.failRemote = errBoom }

	h.reg.Deliver(core.IncomingCall{CallID: "c8", CallerID: "alice", MediaKind: domain.Audio, Offer: testOffer})
	h.reg.Deliver(core.IceCandidate{CallID: "c8", Candidate: webrtc.ICECandidateInit{Candidate: "a"}})
	h.reg.Decide(core.UserDecision{CallID: "c8", Accepted: true})
	h.waitState(t, "c8", domain.StateFailed)

	ev, _ := h.rec.last("c8")
	if ev.Err == nil || ev.Err.Kind != domain.NegotiationError {
		t.Fatalf("err = %+v", ev.Err)
	}
	pc := h.factory.pc(0)
	for _, op := range pc.opLog() {
		if strings.HasPrefix(op, "add:") || op == "create_answer" {
			t.Fatalf("%s ran after a failed remote description", op)
		}
	}
	if pc.closeCount() != 1 {
		t.Fatal("peer connection not released")
	}
	assertLegal(t, h.rec.forCall("c8"))
}

func TestEventsAfterEndAreDropped(t *testing.T) {
	h := newHarness(t, Config{})

	h.reg.Deliver(core.IncomingCall{CallID: "c9", CallerID: "alice", MediaKind: domain.Audio, Offer: testOffer})
	h.reg.Deliver(core.CallEnded{CallID: "c9"})
	h.waitState(t, "c9", domain.StateEnded)
	before := h.rec.total()

	h.reg.Deliver(core.IceCandidate{CallID: "c9", Candidate: webrtc.ICECandidateInit{Candidate: "late"}})
	h.reg.Deliver(core.CallAnswered{CallID: "c9", Answer: testAnswer})
	h.reg.Decide(core.UserDecision{CallID: "c9", Accepted: true})
	h.state(t)

	if ops := h.factory.pc(0).opLog(); len(ops) != 0 {
		t.Fatalf("transport touched after end: %v", ops)
	}
	if h.rec.total() != before {
		t.Fatal("events emitted for an ended call")
	}
}

func TestAcceptOutsideRingingIsIgnored(t *testing.T) {
	h := newHarness(t, Config{NewCallID: func() domain.CallID { return "c10" }})
	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	h.reg.Decide(core.UserDecision{CallID: "c10", Accepted: true})
	_, st, _ := h.state(t)
	if st != domain.StateRingingOut {
		t.Fatalf("state = %s", st)
	}
}

func TestMediaFailureWhileActive(t *testing.T) {
	h := newHarness(t, Config{NewCallID: func() domain.CallID { return "c11" }})
	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return h.ch.count(wire.EventOffer) == 1 }, "offer never sent")
	h.reg.Deliver(core.CallAnswered{CallID: "c11", Answer: testAnswer})
	h.waitState(t, "c11", domain.StateNegotiating)
	pc := h.factory.pc(0)
	pc.setState(core.TransportConnected)
	h.waitState(t, "c11", domain.StateActive)

	pc.setState(core.TransportFailed)
	h.waitState(t, "c11", domain.StateFailed)
	ev, _ := h.rec.last("c11")
	if ev.Err == nil || ev.Err.Kind != domain.MediaError {
		t.Fatalf("err = %+v", ev.Err)
	}
	if h.ch.count(wire.EventHangup) != 1 {
		t.Fatal("peer not told about the failure")
	}
}

func TestRelayErrorRejectsCall(t *testing.T) {
	h := newHarness(t, Config{NewCallID: func() domain.CallID { return "c12" }})
	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	h.reg.Deliver(core.Error{CallID: "c12", Code: wire.CodeRateLimited, Message: "slow down"})
	h.waitState(t, "c12", domain.StateFailed)
	ev, _ := h.rec.last("c12")
	if ev.Err == nil || ev.Err.Kind != domain.Rejected || !strings.Contains(ev.Err.Detail, wire.CodeRateLimited) {
		t.Fatalf("err = %+v", ev.Err)
	}
}

func TestShutdownEndsLiveCall(t *testing.T) {
	ch, f, rec := &fakeChannel{}, &fakeFactory{}, &recorder{}
	reg := NewRegistry(Config{RingTimeout: time.Minute, DisconnectGrace: time.Minute}, ch, f, rec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.Run(ctx)
	}()

	reg.Deliver(core.IncomingCall{CallID: "s1", CallerID: "alice", MediaKind: domain.Audio, Offer: testOffer})
	eventually(t, func() bool { return f.count() == 1 }, "session not created")
	cancel()
	wg.Wait()

	ev, ok := rec.last("s1")
	if !ok || ev.State != domain.StateEnded || ev.Reason != domain.ReasonShutdown {
		t.Fatalf("last event = %+v", ev)
	}
	if f.pc(0).closeCount() != 1 {
		t.Fatal("peer connection not released on shutdown")
	}
	if reg.Deliver(core.Connected{}) {
		t.Fatal("Deliver accepted work after stop")
	}
}

func TestMalformedAnswerFailsOutgoingCall(t *testing.T) {
	h := newHarness(t, Config{NewCallID: func() domain.CallID { return "c13" }})
	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return h.ch.count(wire.EventOffer) == 1 }, "offer never sent")

	ev, err := wire.DecodeEvent([]byte(`{"event":"call-answered","data":{"callId":"c13","answer":{"type":"answer","sdp":""}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	h.reg.Deliver(ev)
	h.waitState(t, "c13", domain.StateFailed)

	last, _ := h.rec.last("c13")
	if last.Err == nil || last.Err.Kind != domain.NegotiationError || !strings.Contains(last.Err.Detail, wire.EventCallAnswered) {
		t.Fatalf("err = %+v", last.Err)
	}
	if h.ch.count(wire.EventHangup) != 1 {
		t.Fatal("peer not told about the failure")
	}
	pc := h.factory.pc(0)
	for _, op := range pc.opLog() {
		if strings.HasPrefix(op, "set_remote") {
			t.Fatal("bad answer reached the transport")
		}
	}
	if pc.closeCount() != 1 {
		t.Fatal("peer connection not released")
	}
	assertLegal(t, h.rec.forCall("c13"))
}

func TestCandidateFailureFailsCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.factory.prepare = func(p *fakePC) { p.failAdd = errBoom }

	h.reg.Deliver(core.IncomingCall{CallID: "c14", CallerID: "alice", MediaKind: domain.Audio, Offer: testOffer})
	h.reg.Deliver(core.IceCandidate{CallID: "c14", Candidate: webrtc.ICECandidateInit{Candidate: "a"}})
	h.reg.Decide(core.UserDecision{CallID: "c14", Accepted: true})
	h.waitState(t, "c14", domain.StateFailed)

	ev, _ := h.rec.last("c14")
	if ev.Err == nil || ev.Err.Kind != domain.NegotiationError || !strings.Contains(ev.Err.Detail, "ice candidate") {
		t.Fatalf("err = %+v", ev.Err)
	}
	if h.factory.pc(0).closeCount() != 1 {
		t.Fatal("peer connection not released")
	}
	if _, _, ok := h.state(t); ok {
		t.Fatal("failed session still registered")
	}
	assertLegal(t, h.rec.forCall("c14"))
}

func TestCreateAnswerFailureFailsCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.factory.prepare = func(p *fakePC) { p.failAnswer = errBoom }

	h.reg.Deliver(core.IncomingCall{CallID: "c15", CallerID: "alice", MediaKind: domain.Video, Offer: testOffer})
	h.reg.Decide(core.UserDecision{CallID: "c15", Accepted: true})
	h.waitState(t, "c15", domain.StateFailed)

	ev, _ := h.rec.last("c15")
	if ev.Err == nil || ev.Err.Kind != domain.NegotiationError || !strings.Contains(ev.Err.Detail, "create answer") {
		t.Fatalf("err = %+v", ev.Err)
	}
	if h.ch.count(wire.EventAnswer) != 0 {
		t.Fatal("answer sent after a failed create")
	}
	if h.ch.count(wire.EventHangup) != 1 {
		t.Fatal("caller not told about the failure")
	}
	assertLegal(t, h.rec.forCall("c15"))
}

func TestActiveCallFailsWhenSignalingStaysDown(t *testing.T) {
	h := newHarness(t, Config{
		DisconnectGrace: 30 * time.Millisecond,
		NewCallID:       func() domain.CallID { return "c16" },
	})
	if _, err := h.reg.Dial(context.Background(), "bob", domain.Audio); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return h.ch.count(wire.EventOffer) == 1 }, "offer never sent")
	h.reg.Deliver(core.CallAnswered{CallID: "c16", Answer: testAnswer})
	h.waitState(t, "c16", domain.StateNegotiating)
	pc := h.factory.pc(0)
	pc.setState(core.TransportConnected)
	h.waitState(t, "c16", domain.StateActive)

	h.reg.Deliver(core.Disconnected{})
	h.waitState(t, "c16", domain.StateFailed)

	ev, _ := h.rec.last("c16")
	if ev.Err == nil || ev.Err.Kind != domain.TransportError {
		t.Fatalf("err = %+v, want TransportError", ev.Err)
	}
	if pc.closeCount() != 1 {
		t.Fatal("peer connection not released")
	}
	assertLegal(t, h.rec.forCall("c16"))
}
