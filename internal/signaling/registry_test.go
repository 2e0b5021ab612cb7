package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(clock *fakeClock, obs Observer) *Registry {
	opts := RegistryOptions{Logger: testLogger(), Observer: obs}
	if clock != nil {
		opts.Now = clock.Now
	}
	return NewRegistry(opts)
}

func info(name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"name":%q}`, name))
}

func TestRegistryJoinAnnouncesAndListsExisting(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	a := newFakeConn("c-a")
	b := newFakeConn("c-b")

	res := reg.Join("doc1", "pa", info("a"), a)
	if len(res.Existing) != 0 {
		t.Fatalf("first join existing = %v, want none", res.Existing)
	}
	if stats := reg.Stats(); stats.Rooms != 1 || stats.Peers != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	res = reg.Join("doc1", "pb", info("b"), b)
	if len(res.Existing) != 1 || res.Existing[0].PeerID != "pa" {
		t.Fatalf("existing = %+v, want [pa]", res.Existing)
	}
	if string(res.Existing[0].PeerInfo) != `{"name":"a"}` {
		t.Fatalf("existing peerInfo = %s", res.Existing[0].PeerInfo)
	}
	joined := a.ofType(t, TypePeerJoined)
	if len(joined) != 1 || joined[0].PeerID != "pb" || joined[0].DocumentID != "doc1" {
		t.Fatalf("peer_joined on a = %+v", joined)
	}
	if got := b.ofType(t, TypePeerJoined); len(got) != 0 {
		t.Fatalf("joiner received its own peer_joined: %+v", got)
	}
}

func TestRegistryRoomsAreIsolated(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	a := newFakeConn("c-a")
	b := newFakeConn("c-b")
	reg.Join("doc1", "pa", info("a"), a)
	res := reg.Join("doc2", "pb", info("b"), b)
	if len(res.Existing) != 0 {
		t.Fatalf("existing across rooms = %+v", res.Existing)
	}
	if len(a.raw()) != 0 {
		t.Fatalf("doc1 member saw doc2 traffic")
	}
	reg.Broadcast("doc2", []byte(`{"type":"x"}`), nil)
	if len(a.raw()) != 0 || len(b.raw()) != 1 {
		t.Fatalf("broadcast leaked: a=%d b=%d", len(a.raw()), len(b.raw()))
	}
}

func TestRegistryLeaveRemovesEmptyRoom(t *testing.T) {
	obs := &recordingObserver{}
	reg := newTestRegistry(nil, obs)
	a := newFakeConn("c-a")
	b := newFakeConn("c-b")
	reg.Join("doc1", "pa", info("a"), a)
	reg.Join("doc1", "pb", info("b"), b)

	sess, ok := reg.Leave(b)
	if !ok || sess.PeerID != "pb" {
		t.Fatalf("Leave = %+v/%v", sess, ok)
	}
	left := a.ofType(t, TypePeerLeft)
	if len(left) != 1 || left[0].PeerID != "pb" {
		t.Fatalf("peer_left on a = %+v", left)
	}
	if _, ok := reg.Leave(b); ok {
		t.Fatalf("second Leave reported a session")
	}
	if got := len(a.ofType(t, TypePeerLeft)); got != 1 {
		t.Fatalf("peer_left count = %d, want 1", got)
	}

	reg.Leave(a)
	if stats := reg.Stats(); stats.Rooms != 0 || stats.Peers != 0 {
		t.Fatalf("stats after all left = %+v", stats)
	}
	if _, ok := reg.Room("doc1"); ok {
		t.Fatalf("empty room still present")
	}

	events := obs.snapshot()
	if len(events) != 4 || events[2].kind != "left" || events[2].cause != CauseDisconnect {
		t.Fatalf("observer events = %+v", events)
	}
}

func TestRegistryDuplicatePeerReplacesConnection(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	watcher := newFakeConn("c-w")
	first := newFakeConn("c-1")
	second := newFakeConn("c-2")
	reg.Join("doc1", "pw", info("w"), watcher)
	reg.Join("doc1", "dup", info("one"), first)
	watcher.reset()

	res := reg.Join("doc1", "dup", info("two"), second)
	if !res.Replaced {
		t.Fatalf("Replaced = false")
	}
	closed, reason := first.isClosed()
	if !closed || reason != replacedReason {
		t.Fatalf("old connection closed=%v reason=%q", closed, reason)
	}
	sess, ok := reg.Session("dup")
	if !ok || sess.Conn().ID() != "c-2" {
		t.Fatalf("session conn = %v", sess.Conn())
	}
	if got := watcher.ofType(t, TypePeerLeft); len(got) != 0 {
		t.Fatalf("watcher saw peer_left on replacement: %+v", got)
	}
	if got := watcher.ofType(t, TypePeerJoined); len(got) != 1 || string(got[0].PeerInfo) != `{"name":"two"}` {
		t.Fatalf("watcher peer_joined = %+v", got)
	}

	// The replaced connection's cleanup must not remove the new session.
	if _, ok := reg.Leave(first); ok {
		t.Fatalf("Leave on replaced connection removed a session")
	}
	if stats := reg.Stats(); stats.Peers != 2 {
		t.Fatalf("peers = %d, want 2", stats.Peers)
	}
}

func TestRegistryJoinSwitchesRoom(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	a := newFakeConn("c-a")
	b := newFakeConn("c-b")
	reg.Join("doc1", "pa", info("a"), a)
	reg.Join("doc1", "pb", info("b"), b)

	reg.Join("doc2", "pb", info("b"), b)
	left := a.ofType(t, TypePeerLeft)
	if len(left) != 1 || left[0].PeerID != "pb" || left[0].DocumentID != "doc1" {
		t.Fatalf("peer_left = %+v", left)
	}
	room, ok := reg.Room("doc1")
	if !ok || room.PeerCount != 1 {
		t.Fatalf("doc1 = %+v/%v", room, ok)
	}
	if stats := reg.Stats(); stats.Rooms != 2 || stats.Peers != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRegistryRelay(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	a := newFakeConn("c-a")
	reg.Join("doc1", "pa", info("a"), a)

	payload := []byte(`{"type":"webrtc_offer","targetPeerId":"pa","sdp":"v=0"}`)
	if err := reg.Relay("pa", payload); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	sent := a.raw()
	if len(sent) != 1 || !bytes.Equal(sent[0], payload) {
		t.Fatalf("relayed bytes = %q", sent)
	}
	if err := reg.Relay("ghost", payload); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("Relay ghost err = %v, want ErrPeerNotFound", err)
	}
}

func TestRegistryBroadcastContinuesPastFailures(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	a := newFakeConn("c-a")
	broken := newFakeConn("c-b")
	c := newFakeConn("c-c")
	reg.Join("doc1", "pa", info("a"), a)
	reg.Join("doc1", "pb", info("b"), broken)
	reg.Join("doc1", "pc", info("c"), c)
	a.reset()
	c.reset()
	broken.mu.Lock()
	broken.sendErr = ErrQueueFull
	broken.mu.Unlock()

	deliveries := reg.Broadcast("doc1", []byte(`{"type":"x"}`), nil)
	if len(deliveries) != 3 {
		t.Fatalf("deliveries = %+v", deliveries)
	}
	failed := Failed(deliveries)
	if len(failed) != 1 || failed[0].ConnID != "c-b" || !errors.Is(failed[0].Err, ErrQueueFull) {
		t.Fatalf("failed = %+v", failed)
	}
	if len(a.raw()) != 1 || len(c.raw()) != 1 {
		t.Fatalf("healthy members missed broadcast")
	}

	deliveries = reg.Broadcast("doc1", []byte(`{"type":"y"}`), a)
	for _, d := range deliveries {
		if d.ConnID == "c-a" {
			t.Fatalf("excluded connection received broadcast")
		}
	}
}

func TestRegistryEvictsStalePeers(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	reg := newTestRegistry(clock, obs)
	stale := newFakeConn("c-stale")
	fresh := newFakeConn("c-fresh")
	reg.Join("doc1", "stale", info("s"), stale)
	reg.Join("doc1", "fresh", info("f"), fresh)

	clock.Advance(40 * time.Second)
	reg.Heartbeat(fresh)
	clock.Advance(30 * time.Second)

	evicted := reg.Evict(time.Minute)
	if len(evicted) != 1 || evicted[0].PeerID != "stale" {
		t.Fatalf("evicted = %+v", evicted)
	}
	if closed, _ := stale.isClosed(); !closed {
		t.Fatalf("stale connection not closed")
	}
	left := fresh.ofType(t, TypePeerLeft)
	if len(left) != 1 || left[0].PeerID != "stale" {
		t.Fatalf("peer_left = %+v", left)
	}
	if _, ok := reg.Session("stale"); ok {
		t.Fatalf("stale session still registered")
	}
	if _, ok := reg.Leave(stale); ok {
		t.Fatalf("transport cleanup after eviction removed a session")
	}
	if got := len(fresh.ofType(t, TypePeerLeft)); got != 1 {
		t.Fatalf("peer_left count = %d, want 1", got)
	}

	var causes []LeaveCause
	for _, ev := range obs.snapshot() {
		if ev.kind == "left" {
			causes = append(causes, ev.cause)
		}
	}
	if len(causes) != 1 || causes[0] != CauseEvicted {
		t.Fatalf("leave causes = %v", causes)
	}
}

func TestRegistryEvictBoundary(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock, nil)
	conn := newFakeConn("c")
	reg.Join("doc1", "p", info("p"), conn)

	clock.Advance(time.Minute)
	if evicted := reg.Evict(time.Minute); len(evicted) != 0 {
		t.Fatalf("evicted at exactly the timeout: %+v", evicted)
	}
	clock.Advance(time.Millisecond)
	if evicted := reg.Evict(time.Minute); len(evicted) != 1 {
		t.Fatalf("evicted = %+v, want 1", evicted)
	}
}

func TestRegistryRoomInfo(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	reg.Join("doc1", "pb", info("b"), newFakeConn("c-b"))
	reg.Join("doc1", "pa", info("a"), newFakeConn("c-a"))
	reg.Join("doc2", "pc", info("c"), newFakeConn("c-c"))

	room, ok := reg.Room("doc1")
	if !ok {
		t.Fatalf("room doc1 missing")
	}
	if room.RoomID != "collab-doc1" || room.PeerCount != 2 || room.Peers[0].PeerID != "pa" {
		t.Fatalf("room = %+v", room)
	}
	rooms := reg.Rooms()
	if len(rooms) != 2 || rooms[0].DocumentID != "doc1" || rooms[1].PeerCount != 1 {
		t.Fatalf("rooms = %+v", rooms)
	}
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	reg := newTestRegistry(nil, nil)
	stop := make(chan struct{})
	evictorDone := make(chan struct{})
	go func() {
		defer close(evictorDone)
		for {
			select {
			case <-stop:
				return
			default:
				reg.Evict(0)
			}
		}
	}()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("c-%d", i))
			doc := fmt.Sprintf("doc%d", i%4)
			for j := 0; j < 20; j++ {
				reg.Join(doc, fmt.Sprintf("p-%d", i), info("x"), conn)
				reg.Heartbeat(conn)
				reg.Broadcast(doc, []byte(`{}`), conn)
				if j%3 == 0 {
					reg.Leave(conn)
				}
			}
			reg.Leave(conn)
		}(i)
	}
	wg.Wait()
	close(stop)
	<-evictorDone
	if stats := reg.Stats(); stats.Rooms != 0 || stats.Peers != 0 {
		t.Fatalf("stats = %+v, want empty", stats)
	}
}
