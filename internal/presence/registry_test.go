package presence_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-voice-chat/internal/presence"
)

func TestRegistry_Login(t *testing.T) {
	r := presence.NewRegistry()

	require.NoError(t, r.Login("alice"))
	assert.ErrorIs(t, r.Login("alice"), presence.ErrUserExists)
	assert.True(t, r.IsOnline("alice"), "first login must stay online")

	assert.ErrorIs(t, r.Login(""), presence.ErrInvalidName)
	assert.ErrorIs(t, r.Login("   "), presence.ErrInvalidName)

	require.NoError(t, r.Login(" bob "))
	assert.True(t, r.IsOnline("bob"))
	assert.ErrorIs(t, r.Login("bob"), presence.ErrUserExists)

	// Usernames are case-sensitive.
	assert.NoError(t, r.Login("Alice"))
}

func TestRegistry_Logout(t *testing.T) {
	r := presence.NewRegistry()
	require.NoError(t, r.Login("alice"))

	assert.True(t, r.Logout("alice"))
	assert.False(t, r.IsOnline("alice"))
	assert.False(t, r.Logout("alice"), "second logout is a no-op")
	assert.False(t, r.Logout("nobody"))

	require.NoError(t, r.Login("alice"), "username is free again after logout")
}

func TestRegistry_OnlineUsersIsSortedSnapshot(t *testing.T) {
	r := presence.NewRegistry()
	for _, u := range []string{"carol", "alice", "bob"} {
		require.NoError(t, r.Login(u))
	}

	users := r.OnlineUsers()
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)

	r.Logout("bob")
	assert.Equal(t, []string{"alice", "bob", "carol"}, users, "snapshot must not change")
	assert.Equal(t, []string{"alice", "carol"}, r.OnlineUsers())
}

func TestRegistry_CreateGroup(t *testing.T) {
	r := presence.NewRegistry()
	require.NoError(t, r.Login("alice"))

	require.NoError(t, r.CreateGroup("team", "alice"))
	assert.True(t, r.GroupExists("team"))
	assert.Equal(t, []string{"alice"}, r.GroupMembers("team"), "creator auto-joins")

	assert.ErrorIs(t, r.CreateGroup("team", "alice"), presence.ErrGroupExists)
	assert.ErrorIs(t, r.CreateGroup(" ", "alice"), presence.ErrInvalidName)
	assert.ErrorIs(t, r.CreateGroup("other", "bob"), presence.ErrUserNotOnline)
	assert.False(t, r.GroupExists("other"))

	g, ok := r.Group("team")
	require.True(t, ok)
	assert.Equal(t, "alice", g.Creator)
	assert.False(t, g.CreatedAt.IsZero())
}

func TestRegistry_JoinGroup(t *testing.T) {
	r := presence.NewRegistry()
	require.NoError(t, r.Login("alice"))
	require.NoError(t, r.Login("bob"))
	require.NoError(t, r.CreateGroup("team", "alice"))

	require.NoError(t, r.JoinGroup("team", "bob"))
	assert.Equal(t, []string{"alice", "bob"}, r.GroupMembers("team"))
	assert.True(t, r.IsMember("team", "bob"))

	assert.ErrorIs(t, r.JoinGroup("team", "bob"), presence.ErrAlreadyMember)
	assert.ErrorIs(t, r.JoinGroup("missing", "bob"), presence.ErrGroupNotFound)
	assert.ErrorIs(t, r.JoinGroup("team", "carol"), presence.ErrUserNotOnline)
}

func TestRegistry_LeaveGroupDeletesEmptyGroup(t *testing.T) {
	r := presence.NewRegistry()
	require.NoError(t, r.Login("alice"))
	require.NoError(t, r.Login("bob"))
	require.NoError(t, r.CreateGroup("team", "alice"))
	require.NoError(t, r.JoinGroup("team", "bob"))

	require.NoError(t, r.LeaveGroup("team", "alice"))
	assert.True(t, r.GroupExists("team"))
	assert.Equal(t, []string{"bob"}, r.GroupMembers("team"))

	assert.ErrorIs(t, r.LeaveGroup("team", "alice"), presence.ErrNotMember)

	require.NoError(t, r.LeaveGroup("team", "bob"))
	assert.False(t, r.GroupExists("team"))
	assert.Nil(t, r.GroupMembers("team"))
	assert.ErrorIs(t, r.LeaveGroup("team", "bob"), presence.ErrGroupNotFound)
}

func TestRegistry_MembershipOutlivesLogout(t *testing.T) {
	r := presence.NewRegistry()
	require.NoError(t, r.Login("alice"))
	require.NoError(t, r.Login("bob"))
	require.NoError(t, r.CreateGroup("team", "alice"))
	require.NoError(t, r.JoinGroup("team", "bob"))

	r.Logout("alice")

	assert.Equal(t, []string{"alice", "bob"}, r.GroupMembers("team"))
	assert.Equal(t, []string{"bob"}, r.OnlineMembers("team"))
	assert.Equal(t, []string{"team"}, r.UserGroups("alice"))
	assert.True(t, r.IsOnline("bob"))
}

func TestRegistry_GroupsAndStats(t *testing.T) {
	r := presence.NewRegistry()
	require.NoError(t, r.Login("alice"))
	require.NoError(t, r.Login("bob"))
	require.NoError(t, r.CreateGroup("zeta", "alice"))
	require.NoError(t, r.CreateGroup("alpha", "bob"))
	require.NoError(t, r.JoinGroup("alpha", "alice"))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Groups())
	assert.Equal(t, []string{"alpha", "zeta"}, r.UserGroups("alice"))
	assert.Equal(t, []string{"alpha"}, r.UserGroups("bob"))
	assert.Empty(t, r.UserGroups("carol"))

	assert.Equal(t, presence.Stats{OnlineUsers: 2, Groups: 2, Memberships: 3}, r.Stats())
}

func TestRegistry_ConcurrentLoginSameName(t *testing.T) {
	r := presence.NewRegistry()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Login("alice") == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRegistry_ConcurrentCreateGroupSameName(t *testing.T) {
	r := presence.NewRegistry()
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for _, u := range users {
		require.NoError(t, r.Login(u))
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(creator string) {
			defer wg.Done()
			if r.CreateGroup("team", creator) == nil {
				wins.Add(1)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Len(t, r.GroupMembers("team"), 1)
}
