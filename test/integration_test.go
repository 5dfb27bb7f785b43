package test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/omochice/toy-voice-chat/internal/chat"
	"github.com/omochice/toy-voice-chat/internal/client"
	"github.com/omochice/toy-voice-chat/internal/history"
	"github.com/omochice/toy-voice-chat/internal/server"
	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

func startServer(t *testing.T, opts ...chat.Option) (*server.UnifiedServer, *chat.Router) {
	t.Helper()
	router := chat.NewRouter(opts...)
	srv := server.NewUnifiedServer(router, server.Options{Address: "127.0.0.1:0"})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(srv.Stop)
	return srv, router
}

func connect(t *testing.T, address, username string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, address, client.Options{MediaAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("%s failed to connect: %v", username, err)
	}
	t.Cleanup(c.Disconnect)

	if err := c.Login(ctx, username); err != nil {
		t.Fatalf("%s failed to log in: %v", username, err)
	}
	return c
}

func waitFor(t *testing.T, c *client.Client, typ protocol.MessageType) protocol.Fields {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Messages():
			if ev.Type() == typ {
				return ev.Fields
			}
		case <-timeout:
			t.Fatalf("%s: timeout waiting for %s", c.Username(), typ)
			return nil
		}
	}
}

// TestIntegration_MixedTransports checks that TCP and WebSocket users share
// one session space.
func TestIntegration_MixedTransports(t *testing.T) {
	srv, _ := startServer(t)
	wsURL := "ws://" + srv.Addr() + "/ws"

	alice := connect(t, srv.Addr(), "alice")
	bob := connect(t, wsURL, "bob")

	if err := bob.SendPrivate("alice", "hello over websocket"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msg := waitFor(t, alice, protocol.TypePrivateMessage)
	if got := msg.Get(protocol.KeyContent); got != "hello over websocket" {
		t.Errorf("Expected content %q, got %q", "hello over websocket", got)
	}

	if err := alice.RequestOnlineUsers(); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	users := protocol.SplitList(waitFor(t, alice, protocol.TypeOnlineUsers).Get(protocol.KeyUsers))
	if len(users) != 2 {
		t.Errorf("Expected 2 online users, got %v", users)
	}

	counts := srv.ClientCounts()
	if counts["tcp"] != 1 || counts["websocket"] != 1 {
		t.Errorf("Expected one client per transport, got %v", counts)
	}
}

// TestIntegration_GroupChat fans a group message out to several members.
func TestIntegration_GroupChat(t *testing.T) {
	srv, _ := startServer(t)

	clients := make([]*client.Client, 4)
	for i := range clients {
		addr := srv.Addr()
		if i%2 == 1 {
			addr = "ws://" + addr + "/ws"
		}
		clients[i] = connect(t, addr, fmt.Sprintf("user%d", i))
	}

	if err := clients[0].CreateGroup("room"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, clients[0], protocol.TypeGroupCreated)
	for _, c := range clients[1:3] {
		if err := c.JoinGroup("room"); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		waitFor(t, c, protocol.TypeGroupJoined)
	}

	if err := clients[1].SendGroup("room", "hi room"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		msg := waitFor(t, clients[i], protocol.TypeGroupMessage)
		if msg.Get(protocol.KeyFrom) != "user1" || msg.Get(protocol.KeyContent) != "hi room" {
			t.Errorf("Client %d got unexpected message %v", i, msg)
		}
	}

	// user3 is not a member and may not post.
	if err := clients[3].SendGroup("room", "let me in"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitFor(t, clients[3], protocol.TypeError)
}

// TestIntegration_GroupCallEndsOnDisconnect places a group call, lets one
// member answer, and drops the caller.
func TestIntegration_GroupCallEndsOnDisconnect(t *testing.T) {
	srv, router := startServer(t)

	alice := connect(t, srv.Addr(), "alice")
	bob := connect(t, srv.Addr(), "bob")
	carol := connect(t, "ws://"+srv.Addr()+"/ws", "carol")

	if err := alice.CreateGroup("team"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, alice, protocol.TypeGroupCreated)
	for _, c := range []*client.Client{bob, carol} {
		if err := c.JoinGroup("team"); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		waitFor(t, c, protocol.TypeGroupJoined)
	}

	id, err := alice.StartCall("team", true)
	if err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	waitFor(t, alice, protocol.TypeCallWaiting)
	for _, c := range []*client.Client{bob, carol} {
		in := waitFor(t, c, protocol.TypeIncomingCall)
		if in.Get(protocol.KeyCallID) != id || in.Get(protocol.KeyIsGroup) != "true" {
			t.Errorf("%s got unexpected invitation %v", c.Username(), in)
		}
	}

	if err := bob.AcceptCall(id); err != nil {
		t.Fatalf("AcceptCall failed: %v", err)
	}
	accepted := waitFor(t, alice, protocol.TypeCallAccepted)
	if accepted.Get(protocol.KeyFrom) != "bob" {
		t.Errorf("Expected bob to answer, got %v", accepted)
	}

	alice.Disconnect()

	for _, c := range []*client.Client{bob, carol} {
		ended := waitFor(t, c, protocol.TypeCallEnded)
		if ended.Get(protocol.KeyCallID) != id || ended.Get(protocol.KeyBy) != "alice" {
			t.Errorf("%s got unexpected call_ended %v", c.Username(), ended)
		}
	}
	if _, ok := router.Calls().Get("alice", id); ok {
		t.Error("Call should be gone after caller disconnect")
	}
	if _, active := bob.ActiveCall(); active {
		t.Error("bob should have no active call")
	}
}

func TestIntegration_SQLiteHistorySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	openStore := func() history.Sink {
		db, err := history.OpenSQLite(path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		})
		store, err := history.NewSQLStore(db, 10)
		if err != nil {
			t.Fatalf("Migrate failed: %v", err)
		}
		return store
	}

	first, _ := startServer(t, chat.WithHistory(openStore()))
	alice := connect(t, first.Addr(), "alice")
	bob := connect(t, first.Addr(), "bob")
	if err := alice.SendPrivate("bob", "remember me"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitFor(t, bob, protocol.TypePrivateMessage)
	first.Stop()

	second, _ := startServer(t, chat.WithHistory(openStore()))
	bob = connect(t, second.Addr(), "bob")
	if err := bob.RequestHistory("alice", false); err != nil {
		t.Fatalf("History request failed: %v", err)
	}
	msg := waitFor(t, bob, protocol.TypeHistoryMessage)
	if msg.Get(protocol.KeyContent) != "remember me" || msg.Get(protocol.KeyFrom) != "alice" {
		t.Errorf("Unexpected history entry %v", msg)
	}
	waitFor(t, bob, protocol.TypeHistoryEnd)
}

func TestIntegration_RedisGroupHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv, _ := startServer(t, chat.WithHistory(history.NewRedisStore(rdb, 10, time.Hour)))
	alice := connect(t, srv.Addr(), "alice")

	if err := alice.CreateGroup("ops"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, alice, protocol.TypeGroupCreated)
	for i := 0; i < 3; i++ {
		if err := alice.SendGroup("ops", fmt.Sprintf("note %d", i)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		waitFor(t, alice, protocol.TypeGroupMessage)
	}

	if err := alice.RequestHistory("ops", true); err != nil {
		t.Fatalf("History request failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		msg := waitFor(t, alice, protocol.TypeHistoryMessage)
		if want := fmt.Sprintf("note %d", i); msg.Get(protocol.KeyContent) != want {
			t.Errorf("Entry %d: expected %q, got %q", i, want, msg.Get(protocol.KeyContent))
		}
	}
	end := waitFor(t, alice, protocol.TypeHistoryEnd)
	if end.Get(protocol.KeyCount) != "3" {
		t.Errorf("Expected 3 history entries, got %s", end.Get(protocol.KeyCount))
	}
}
