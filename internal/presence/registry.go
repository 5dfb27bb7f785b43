// Package presence tracks who is online and which groups exist.
//
// Group membership outlives a member's login: logging out removes a user
// from the online set only.
package presence

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Group is a snapshot of one chat group.
type Group struct {
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarises registry contents.
type Stats struct {
	OnlineUsers int `json:"online_users"`
	Groups      int `json:"groups"`
	Memberships int `json:"memberships"`
}

type group struct {
	name      string
	creator   string
	members   map[string]struct{}
	createdAt time.Time
}

func (g *group) snapshot() Group {
	return Group{
		Name:      g.name,
		Creator:   g.creator,
		Members:   sortedKeys(g.members),
		CreatedAt: g.createdAt,
	}
}

// Registry is the concurrent-safe presence and group store. Every method is
// atomic with respect to every other.
type Registry struct {
	mu     sync.RWMutex
	online map[string]time.Time
	groups map[string]*group
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		online: make(map[string]time.Time),
		groups: make(map[string]*group),
		now:    time.Now,
	}
}

// Login marks username online. The name is trimmed first.
func (r *Registry) Login(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.online[username]; exists {
		return ErrUserExists
	}
	r.online[username] = r.now()
	return nil
}

// Logout removes username from the online set and reports whether it was
// present. Absent users are not an error.
func (r *Registry) Logout(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.online[username]; !exists {
		return false
	}
	delete(r.online, username)
	return true
}

func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[username]
	return ok
}

// OnlineUsers returns a sorted snapshot of online usernames.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.online))
	for u := range r.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// CreateGroup registers a new group. The creator must be online and becomes
// its first member.
func (r *Registry) CreateGroup(name, creator string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.online[creator]; !ok {
		return ErrUserNotOnline
	}
	if _, exists := r.groups[name]; exists {
		return ErrGroupExists
	}
	r.groups[name] = &group{
		name:      name,
		creator:   creator,
		members:   map[string]struct{}{creator: {}},
		createdAt: r.now(),
	}
	return nil
}

func (r *Registry) JoinGroup(name, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok := r.online[username]; !ok {
		return ErrUserNotOnline
	}
	if _, ok := g.members[username]; ok {
		return ErrAlreadyMember
	}
	g.members[username] = struct{}{}
	return nil
}

// LeaveGroup removes username from the group. A group left empty is
// deleted.
func (r *Registry) LeaveGroup(name, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok := g.members[username]; !ok {
		return ErrNotMember
	}
	delete(g.members, username)
	if len(g.members) == 0 {
		delete(r.groups, name)
	}
	return nil
}

// GroupMembers returns the sorted member list, or nil if the group does not
// exist.
func (r *Registry) GroupMembers(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[name]
	if !ok {
		return nil
	}
	return sortedKeys(g.members)
}

// OnlineMembers returns the members of name that are currently online.
func (r *Registry) OnlineMembers(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[name]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(g.members))
	for m := range g.members {
		if _, online := r.online[m]; online {
			members = append(members, m)
		}
	}
	sort.Strings(members)
	return members
}

func (r *Registry) GroupExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[name]
	return ok
}

func (r *Registry) IsMember(name, username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[name]
	if !ok {
		return false
	}
	_, ok = g.members[username]
	return ok
}

// Group returns a snapshot of one group.
func (r *Registry) Group(name string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[name]
	if !ok {
		return Group{}, false
	}
	return g.snapshot(), true
}

// Groups returns the sorted group names.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UserGroups returns the sorted names of groups username belongs to.
func (r *Registry) UserGroups(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, g := range r.groups {
		if _, ok := g.members[username]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{OnlineUsers: len(r.online), Groups: len(r.groups)}
	for _, g := range r.groups {
		s.Memberships += len(g.members)
	}
	return s
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
