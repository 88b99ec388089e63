package liveregion

import (
	"fmt"
	"sync"
	"testing"
)

func TestConnectionRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewConnectionRegistry()

	conn1 := &Connection{ID: "c1", SessionID: "session-1", UserID: "alice"}
	registry.Register(conn1)

	if got := registry.BySession("session-1"); len(got) != 1 || got[0] != conn1 {
		t.Fatalf("BySession = %v, want [conn1]", got)
	}
	if got := registry.ByUser("alice"); len(got) != 1 || got[0] != conn1 {
		t.Fatalf("ByUser = %v, want [conn1]", got)
	}
}

// Tabs of one anonymous browser share a session
func TestConnectionRegistry_MultipleTabs(t *testing.T) {
	registry := NewConnectionRegistry()

	for i := 0; i < 3; i++ {
		registry.Register(&Connection{ID: fmt.Sprint(i), SessionID: "session-1"})
	}

	conns := registry.BySession("session-1")
	if len(conns) != 3 {
		t.Fatalf("BySession returned %d connections, want 3", len(conns))
	}
	for i, conn := range conns {
		if conn.ID != fmt.Sprint(i) {
			t.Errorf("conns[%d].ID = %s, want connect order", i, conn.ID)
		}
	}
	if got := len(registry.ByUser("")); got != 3 {
		t.Errorf("ByUser(\"\") returned %d connections, want 3", got)
	}
	if registry.Sessions() != 1 {
		t.Errorf("Sessions = %d, want 1", registry.Sessions())
	}
}

func TestConnectionRegistry_Unregister(t *testing.T) {
	registry := NewConnectionRegistry()

	conn1 := &Connection{ID: "c1", SessionID: "session-1", UserID: "alice"}
	conn2 := &Connection{ID: "c2", SessionID: "session-1", UserID: "alice"}
	registry.Register(conn1)
	registry.Register(conn2)

	registry.Unregister(conn1)

	conns := registry.BySession("session-1")
	if len(conns) != 1 || conns[0] != conn2 {
		t.Fatalf("after Unregister(conn1) got %v, want [conn2]", conns)
	}

	registry.Unregister(conn2)
	if registry.Len() != 0 {
		t.Errorf("Len = %d, want 0", registry.Len())
	}
	if registry.Sessions() != 0 {
		t.Errorf("Sessions = %d, want 0 (empty sessions are removed)", registry.Sessions())
	}
	if registry.Users() != 0 {
		t.Errorf("Users = %d, want 0", registry.Users())
	}

	// a second unregister is a no-op
	registry.Unregister(conn2)
}

// A stale handle with a reused ID must not evict the live connection
func TestConnectionRegistry_UnregisterStale(t *testing.T) {
	registry := NewConnectionRegistry()

	live := &Connection{ID: "c1", SessionID: "s1"}
	registry.Register(live)
	registry.Unregister(&Connection{ID: "c1", SessionID: "s1"})

	if registry.Len() != 1 {
		t.Errorf("Len = %d, want 1", registry.Len())
	}
}

func TestConnectionRegistry_Counts(t *testing.T) {
	registry := NewConnectionRegistry()

	registry.Register(&Connection{ID: "1", SessionID: "s1", UserID: "alice"})
	registry.Register(&Connection{ID: "2", SessionID: "s2", UserID: "alice"})
	registry.Register(&Connection{ID: "3", SessionID: "s3", UserID: "bob"})
	registry.Register(&Connection{ID: "4", SessionID: "s4"})

	if registry.Len() != 4 {
		t.Errorf("Len = %d, want 4", registry.Len())
	}
	if registry.Sessions() != 4 {
		t.Errorf("Sessions = %d, want 4", registry.Sessions())
	}
	if registry.Users() != 3 {
		t.Errorf("Users = %d, want 3", registry.Users())
	}
	if got := len(registry.All()); got != 4 {
		t.Errorf("All returned %d connections, want 4", got)
	}
	if got := len(registry.ByUser("alice")); got != 2 {
		t.Errorf("ByUser(alice) returned %d connections, want 2", got)
	}
	if got := registry.BySession("missing"); len(got) != 0 {
		t.Errorf("BySession(missing) = %v, want empty", got)
	}
}

func TestConnectionRegistry_ReturnsCopy(t *testing.T) {
	registry := NewConnectionRegistry()
	conn := &Connection{ID: "c1", SessionID: "s1"}
	registry.Register(conn)

	conns := registry.BySession("s1")
	conns[0] = nil

	if registry.BySession("s1")[0] != conn {
		t.Error("modifying the returned slice changed the registry")
	}
}

func TestConnectionRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewConnectionRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &Connection{ID: fmt.Sprint(i), SessionID: fmt.Sprintf("s%d", i%5), UserID: fmt.Sprintf("u%d", i%3)}
			registry.Register(conn)
			_ = registry.BySession(conn.SessionID)
			_ = registry.Len()
			if i%2 == 0 {
				registry.Unregister(conn)
			}
		}(i)
	}
	wg.Wait()

	if registry.Len() != 25 {
		t.Errorf("Len = %d, want 25", registry.Len())
	}
}
