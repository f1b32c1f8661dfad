package session

import (
	"sync"
	"testing"
	"time"

	"github.com/OkGoDoIt/AugmentOS/asr"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/stream"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

// fakeConn records everything sent through it.
type fakeConn struct {
	mu       sync.Mutex
	sent     []wire.Message
	data     []wire.Message
	binary   [][]byte
	closed   bool
	closeMsg string
}

func (c *fakeConn) Send(m wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) SendData(m wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, m)
}

func (c *fakeConn) SendBinary(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binary = append(c.binary, append([]byte(nil), p...))
}

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeMsg = reason
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) controls() []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Message(nil), c.sent...)
}

func (c *fakeConn) micSends() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []bool
	for _, m := range c.sent {
		if mc, ok := m.(*wire.MicrophoneStateChange); ok {
			out = append(out, mc.Enabled)
		}
	}
	return out
}

// stubSubs records teardown calls.
type stubSubs struct {
	mu      sync.Mutex
	removed []string
}

func (f *stubSubs) RemoveSession(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}

func newTestRegistry(t *testing.T) (*Registry, *asr.Memory, *stubSubs, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	provider := asr.NewMemory()
	subs := &stubSubs{}
	r := NewRegistry(Config{
		Clock:          clk,
		Provider:       provider,
		Subscriptions:  subs,
		ReconnectGrace: 60 * time.Second,
		MicDebounce:    time.Second,
	})
	t.Cleanup(r.Shutdown)
	return r, provider, subs, clk
}

func TestCreateAndSnapshot(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	conn := &fakeConn{}
	s := r.Create(conn, "u@example.com")

	if s.State() != StateActive {
		t.Fatalf("state = %v, want active", s.State())
	}
	if got := r.Get(s.SessionID); got != s {
		t.Fatal("Get should return the created session")
	}
	if got := r.GetByUser("u@example.com"); got != s {
		t.Fatal("GetByUser should return the created session")
	}

	info := s.Snapshot()
	if info.SessionID != s.SessionID || info.UserID != "u@example.com" {
		t.Fatalf("snapshot identity = %+v", info)
	}
	if len(info.ActiveApps) != 0 || info.IsTranscribing {
		t.Fatalf("fresh snapshot = %+v", info)
	}
}

func TestCreateReplacesExistingSession(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	s1 := r.Create(&fakeConn{}, "u@example.com")
	s2 := r.Create(&fakeConn{}, "u@example.com")

	if s1.State() != StateEnded {
		t.Fatalf("old session state = %v, want ended", s1.State())
	}
	if r.Get(s1.SessionID) != nil {
		t.Fatal("old session should be deregistered")
	}
	if r.GetByUser("u@example.com") != s2 {
		t.Fatal("user should map to the new session")
	}
}

func TestAdoptInsideGrace(t *testing.T) {
	r, provider, _, clk := newTestRegistry(t)
	c1 := &fakeConn{}
	s := r.Create(c1, "u@example.com")
	s.Activate("com.example.captions")
	s.Pipeline().UpdateStreams(t.Context(), []stream.Key{stream.DefaultTranscription})

	r.MarkDisconnected(s, c1)
	if s.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", s.State())
	}

	clk.Advance(59 * time.Second)
	c2 := &fakeConn{}
	got := r.Adopt(c2, "u@example.com")
	if got != s {
		t.Fatal("Adopt inside grace should return the same session")
	}
	if s.State() != StateActive || s.Conn() != c2 {
		t.Fatalf("adopted session: state=%v", s.State())
	}
	if apps := s.ActiveApps(); len(apps) != 1 || apps[0] != "com.example.captions" {
		t.Fatalf("active apps lost on adopt: %v", apps)
	}
	if n := len(provider.OpenStreams()); n != 1 {
		t.Fatalf("recognizer streams lost on adopt: %d open", n)
	}

	// The canceled grace deadline passing must not end the session.
	clk.Advance(2 * time.Minute)
	if s.State() != StateActive {
		t.Fatalf("state after canceled grace = %v", s.State())
	}
}

func TestGraceExpiryEndsSession(t *testing.T) {
	r, provider, subs, clk := newTestRegistry(t)
	s := r.Create(&fakeConn{}, "u@example.com")
	s.Pipeline().UpdateStreams(t.Context(), []stream.Key{stream.DefaultTranscription})

	tpa := &fakeConn{}
	s.Activate("com.example.captions")
	s.BindAppConn("com.example.captions", tpa)

	r.MarkDisconnected(s, nil)
	clk.Advance(60 * time.Second)

	if s.State() != StateEnded {
		t.Fatalf("state = %v, want ended", s.State())
	}
	if r.Get(s.SessionID) != nil || r.GetByUser("u@example.com") != nil {
		t.Fatal("ended session should be deregistered")
	}
	if len(subs.removed) != 1 || subs.removed[0] != s.SessionID {
		t.Fatalf("subscriptions removed = %v", subs.removed)
	}
	if n := len(provider.OpenStreams()); n != 0 {
		t.Fatalf("%d recognizer streams survive session end", n)
	}
	if !tpa.isClosed() {
		t.Fatal("TPA connection should close with the session")
	}
	msgs := tpa.controls()
	if len(msgs) == 0 {
		t.Fatal("TPA should get app_stopped before close")
	}
	if _, ok := msgs[len(msgs)-1].(*wire.AppStopped); !ok {
		t.Fatalf("last TPA message = %T, want AppStopped", msgs[len(msgs)-1])
	}

	if r.Adopt(&fakeConn{}, "u@example.com") != nil {
		t.Fatal("Adopt after grace should return nil")
	}
}

func TestMarkDisconnectedIdempotent(t *testing.T) {
	r, _, _, clk := newTestRegistry(t)
	s := r.Create(&fakeConn{}, "u@example.com")

	r.MarkDisconnected(s, nil)
	r.MarkDisconnected(s, nil)
	if n := clk.PendingTimers(); n != 1 {
		t.Fatalf("pending grace timers = %d, want 1", n)
	}
}

func TestMarkDisconnectedIgnoresStaleConn(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	c1 := &fakeConn{}
	s := r.Create(c1, "u@example.com")

	r.MarkDisconnected(s, c1)
	c2 := &fakeConn{}
	r.Adopt(c2, "u@example.com")

	// The superseded connection's read loop reports its death late.
	r.MarkDisconnected(s, c1)
	if s.State() != StateActive {
		t.Fatalf("state = %v, stale conn must not disconnect the session", s.State())
	}
	if s.Conn() != c2 {
		t.Fatal("session lost its adopted connection")
	}
}

func TestEndIdempotent(t *testing.T) {
	r, _, subs, _ := newTestRegistry(t)
	s := r.Create(&fakeConn{}, "u@example.com")

	r.End(s)
	r.End(s)
	if len(subs.removed) != 1 {
		t.Fatalf("RemoveSession called %d times, want 1", len(subs.removed))
	}
}

func TestMembershipTransitions(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	s := r.Create(&fakeConn{}, "u@example.com")

	if !s.BeginLoading("com.example.a") {
		t.Fatal("first BeginLoading should succeed")
	}
	if s.BeginLoading("com.example.a") {
		t.Fatal("BeginLoading while loading should report false")
	}
	if !s.FinishLoading("com.example.a") {
		t.Fatal("FinishLoading should succeed")
	}
	if s.CancelLoading("com.example.a") {
		t.Fatal("CancelLoading after FinishLoading should report false")
	}
	if !s.IsActive("com.example.a") || s.IsLoading("com.example.a") {
		t.Fatal("package should be active only")
	}
	if s.BeginLoading("com.example.a") {
		t.Fatal("BeginLoading while active should report false")
	}

	// Timeout path: exactly one of finish/cancel wins.
	s.BeginLoading("com.example.b")
	if !s.CancelLoading("com.example.b") {
		t.Fatal("CancelLoading should succeed")
	}
	if s.FinishLoading("com.example.b") {
		t.Fatal("FinishLoading after CancelLoading should report false")
	}
	if s.IsActive("com.example.b") || s.IsLoading("com.example.b") {
		t.Fatal("canceled package should be in neither set")
	}

	if !s.RemoveApp("com.example.a") {
		t.Fatal("RemoveApp should report membership")
	}
	if s.RemoveApp("com.example.a") {
		t.Fatal("second RemoveApp should report false")
	}
}

func TestBindAppConnReplacement(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	s := r.Create(&fakeConn{}, "u@example.com")

	c1, c2 := &fakeConn{}, &fakeConn{}
	if old := s.BindAppConn("com.example.a", c1); old != nil {
		t.Fatal("first bind should replace nothing")
	}
	if old := s.BindAppConn("com.example.a", c2); old != c1 {
		t.Fatal("rebind should hand back the replaced connection")
	}

	// A stale read loop exiting must not unbind the replacement.
	s.UnbindAppConn("com.example.a", c1)
	if s.AppConn("com.example.a") != c2 {
		t.Fatal("stale unbind removed the live connection")
	}
	s.UnbindAppConn("com.example.a", c2)
	if s.AppConn("com.example.a") != nil {
		t.Fatal("unbind of the live connection should clear it")
	}
}

func TestLocationCache(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	s := r.Create(&fakeConn{}, "u@example.com")

	if _, ok := s.Location(); ok {
		t.Fatal("fresh session should have no cached location")
	}
	s.SetLocation(wire.LocationUpdate{Lat: 37.77, Lng: -122.42})
	loc, ok := s.Location()
	if !ok || loc.Lat != 37.77 || loc.Lng != -122.42 {
		t.Fatalf("cached location = %+v, ok=%v", loc, ok)
	}
}

func TestCompositeIDRoundTrip(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	s := r.Create(&fakeConn{}, "u@example.com")

	id := s.CompositeID("com.example.captions")
	sid, pkg, err := ParseComposite(id)
	if err != nil {
		t.Fatalf("ParseComposite(%q): %v", id, err)
	}
	if sid != s.SessionID || pkg != "com.example.captions" {
		t.Fatalf("ParseComposite = (%q, %q)", sid, pkg)
	}

	for _, bad := range []string{"", "nonsense", s.SessionID, s.SessionID + "-"} {
		if _, _, err := ParseComposite(bad); err == nil {
			t.Errorf("ParseComposite(%q) should fail", bad)
		}
	}
}

func TestMicFirstCallSendsImmediately(t *testing.T) {
	r, _, _, clk := newTestRegistry(t)
	conn := &fakeConn{}
	s := r.Create(conn, "u@example.com")

	s.UpdateMicrophoneState(true)
	if got := conn.micSends(); len(got) != 1 || !got[0] {
		t.Fatalf("mic sends = %v, want [true]", got)
	}
	if s.Pipeline().IsTranscribing() {
		t.Fatal("transcription gate should wait for the window to settle")
	}

	clk.Advance(time.Second)
	if got := conn.micSends(); len(got) != 1 {
		t.Fatalf("settle with unchanged target resent: %v", got)
	}
	if !s.Pipeline().IsTranscribing() {
		t.Fatal("settled mic-on should start transcription")
	}
	if !s.MicrophoneEnabled() {
		t.Fatal("MicrophoneEnabled should report the settled state")
	}
}

func TestMicBurstSettlesToTwoSends(t *testing.T) {
	r, _, _, clk := newTestRegistry(t)
	conn := &fakeConn{}
	s := r.Create(conn, "u@example.com")

	// Alternating burst ending opposite the immediate send.
	s.UpdateMicrophoneState(true)
	s.UpdateMicrophoneState(false)
	s.UpdateMicrophoneState(true)
	s.UpdateMicrophoneState(false)

	clk.Advance(time.Second)
	got := conn.micSends()
	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("mic sends = %v, want [true false]", got)
	}
	if s.Pipeline().IsTranscribing() {
		t.Fatal("settled mic-off should stop transcription")
	}
}

func TestMicBurstEndingWhereItStarted(t *testing.T) {
	r, _, _, clk := newTestRegistry(t)
	conn := &fakeConn{}
	s := r.Create(conn, "u@example.com")

	s.UpdateMicrophoneState(true)
	s.UpdateMicrophoneState(false)
	s.UpdateMicrophoneState(true)

	clk.Advance(time.Second)
	if got := conn.micSends(); len(got) != 1 || !got[0] {
		t.Fatalf("mic sends = %v, want [true]", got)
	}
	if !s.Pipeline().IsTranscribing() {
		t.Fatal("settled mic-on should start transcription")
	}
}

func TestMicWindowRestartsOnChange(t *testing.T) {
	r, _, _, clk := newTestRegistry(t)
	conn := &fakeConn{}
	s := r.Create(conn, "u@example.com")

	s.UpdateMicrophoneState(true)
	clk.Advance(600 * time.Millisecond)
	s.UpdateMicrophoneState(false) // restarts the window

	clk.Advance(600 * time.Millisecond)
	if got := conn.micSends(); len(got) != 1 {
		t.Fatalf("window should still be open, sends = %v", got)
	}

	clk.Advance(400 * time.Millisecond)
	if got := conn.micSends(); len(got) != 2 || got[1] {
		t.Fatalf("mic sends = %v, want [true false]", got)
	}
}

func TestAdoptResendsMicState(t *testing.T) {
	r, _, _, clk := newTestRegistry(t)
	c1 := &fakeConn{}
	s := r.Create(c1, "u@example.com")

	s.UpdateMicrophoneState(true)
	clk.Advance(time.Second)

	r.MarkDisconnected(s, c1)
	c2 := &fakeConn{}
	r.Adopt(c2, "u@example.com")

	if got := c2.micSends(); len(got) != 1 || !got[0] {
		t.Fatalf("reconnected glasses mic sends = %v, want [true]", got)
	}
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	c1 := &fakeConn{}
	s := r.Create(c1, "u@example.com")
	r.MarkDisconnected(s, c1)

	n := len(c1.controls())
	s.PushAppState()
	s.UpdateMicrophoneState(true)
	if len(c1.controls()) != n {
		t.Fatal("sends while disconnected should go nowhere")
	}
}
