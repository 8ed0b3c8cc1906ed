package relay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testConn(userID string) *Conn {
	return newConn(nil, userID, userID+"@example.com", DefaultOptions())
}

func TestRegistryAddRemoveDeletesEmptySessions(t *testing.T) {
	r := NewRegistry()
	a, b := testConn("u1"), testConn("u2")

	r.Add("s1", a)
	r.Add("s1", b)
	assert.Equal(t, 2, r.Count("s1"))
	assert.ElementsMatch(t, []*Conn{a, b}, r.Members("s1"))

	r.Remove("s1", a)
	assert.Equal(t, []*Conn{b}, r.Members("s1"))

	r.Remove("s1", b)
	assert.Empty(t, r.Sessions())
	assert.Empty(t, r.Members("s1"))

	// removing from an unknown session is a no-op
	r.Remove("missing", a)
}

func TestRegistryJoinMovesConnection(t *testing.T) {
	r := NewRegistry()
	c := testConn("u1")

	assert.Equal(t, "", r.Join(c, "s1"))
	assert.Equal(t, "s1", c.SessionID())

	assert.Equal(t, "s1", r.Join(c, "s2"))
	assert.Equal(t, "s2", c.SessionID())
	assert.Empty(t, r.Members("s1"))
	assert.Equal(t, []string{"s2"}, r.Sessions())

	sessionID, ok := r.SessionOf("u1")
	require.True(t, ok)
	assert.Equal(t, "s2", sessionID)
}

func TestRegistryJoinSameSessionTwice(t *testing.T) {
	r := NewRegistry()
	c := testConn("u1")

	r.Join(c, "s1")
	assert.Equal(t, "s1", r.Join(c, "s1"))
	assert.Equal(t, 1, r.Count("s1"))
}

func TestRegistryLeaveKeepsNewerUserEntry(t *testing.T) {
	r := NewRegistry()
	tab1, tab2 := testConn("u1"), testConn("u1")

	r.Join(tab1, "s1")
	r.Join(tab2, "s2")

	assert.Equal(t, "s1", r.Leave(tab1))
	sessionID, ok := r.SessionOf("u1")
	require.True(t, ok)
	assert.Equal(t, "s2", sessionID)

	assert.Equal(t, "s2", r.Leave(tab2))
	_, ok = r.SessionOf("u1")
	assert.False(t, ok)

	assert.Equal(t, "", r.Leave(tab2))
}

// Any sequence of joins and leaves keeps every connection in at most one
// member set, matching its own session id, with no empty sets left behind.
func TestRegistryMembershipInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		conns := make([]*Conn, rapid.IntRange(1, 5).Draw(t, "conns"))
		for i := range conns {
			conns[i] = testConn(fmt.Sprintf("u%d", i%2))
		}

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			c := conns[rapid.IntRange(0, len(conns)-1).Draw(t, "conn")]
			if rapid.Bool().Draw(t, "join") {
				r.Join(c, fmt.Sprintf("s%d", rapid.IntRange(0, 3).Draw(t, "session")))
			} else {
				r.Leave(c)
			}
		}

		seen := make(map[*Conn]string)
		for sessionID, set := range r.sessions {
			if len(set) == 0 {
				t.Fatalf("empty member set left for %s", sessionID)
			}
			for c := range set {
				if prev, dup := seen[c]; dup {
					t.Fatalf("conn %d in both %s and %s", c.ID(), prev, sessionID)
				}
				seen[c] = sessionID
			}
		}
		for _, c := range conns {
			if seen[c] != c.SessionID() {
				t.Fatalf("conn %d bound to %q but member of %q", c.ID(), c.SessionID(), seen[c])
			}
		}
	})
}
