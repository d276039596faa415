package collab

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	session := registry.Register("conn-1", "ROOM01")
	if session.ConnID != "conn-1" || session.RoomID != "ROOM01" {
		t.Errorf("unexpected session: %+v", session)
	}
	if session.IsDrawing || session.CurrentStroke != nil {
		t.Errorf("new session should be idle: %+v", session)
	}

	got, ok := registry.Get("conn-1")
	if !ok {
		t.Fatal("Get() did not find registered session")
	}
	if got != session {
		t.Error("Get() returned a different session instance")
	}
}

func TestRegistry_UnregisterReturnsRoom(t *testing.T) {
	registry := NewRegistry()
	registry.Register("conn-1", "ROOM01")

	roomID, ok := registry.Unregister("conn-1")
	if !ok || roomID != "ROOM01" {
		t.Errorf("Unregister() = %q,%v, want ROOM01,true", roomID, ok)
	}

	if _, ok := registry.Get("conn-1"); ok {
		t.Error("session still present after Unregister()")
	}

	if _, ok := registry.Unregister("conn-1"); ok {
		t.Error("second Unregister() should report not found")
	}
}

func TestRegistry_CountInRoom(t *testing.T) {
	registry := NewRegistry()
	registry.Register("conn-1", "ROOM01")
	registry.Register("conn-2", "ROOM01")
	registry.Register("conn-3", "ROOM02")

	if got := registry.CountInRoom("ROOM01"); got != 2 {
		t.Errorf("CountInRoom(ROOM01) = %d, want 2", got)
	}
	if got := registry.CountInRoom("ROOM02"); got != 1 {
		t.Errorf("CountInRoom(ROOM02) = %d, want 1", got)
	}
	if got := registry.CountInRoom("EMPTY"); got != 0 {
		t.Errorf("CountInRoom(EMPTY) = %d, want 0", got)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", i)
			registry.Register(connID, "ROOM01")
			registry.Get(connID)
			registry.CountInRoom("ROOM01")
		}(i)
	}
	wg.Wait()

	if got := registry.CountInRoom("ROOM01"); got != 50 {
		t.Errorf("CountInRoom(ROOM01) = %d, want 50", got)
	}
}
