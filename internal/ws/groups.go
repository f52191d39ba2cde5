package ws

import (
	"sync"
)

// GroupRegistry holds named identity sets. Membership does not depend on
// liveness; a group survives losing its last member until DeleteGroup.
type GroupRegistry struct {
	mu     sync.RWMutex
	groups map[string]map[Identity]struct{}
	conns  *ConnectionRegistry
}

func NewGroupRegistry(conns *ConnectionRegistry) *GroupRegistry {
	return &GroupRegistry{
		groups: make(map[string]map[Identity]struct{}),
		conns:  conns,
	}
}

func (g *GroupRegistry) AddToGroup(group string, id Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[group]
	if !ok {
		members = make(map[Identity]struct{})
		g.groups[group] = members
	}
	members[id] = struct{}{}
}

func (g *GroupRegistry) RemoveFromGroup(group string, id Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if members, ok := g.groups[group]; ok {
		delete(members, id)
	}
}

func (g *GroupRegistry) RemoveFromAllGroups(id Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, members := range g.groups {
		delete(members, id)
	}
}

// DeleteGroup drops the group and its membership. It reports whether the
// group existed.
func (g *GroupRegistry) DeleteGroup(group string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.groups[group]
	delete(g.groups, group)
	return ok
}

func (g *GroupRegistry) Members(group string) ([]Identity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	members, ok := g.groups[group]
	if !ok {
		return nil, false
	}
	ids := make([]Identity, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids, true
}

func (g *GroupRegistry) IsMember(group string, id Identity) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.groups[group][id]
	return ok
}

func (g *GroupRegistry) Groups() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.groups))
	for name := range g.groups {
		names = append(names, name)
	}
	return names
}

// ResolveConnections maps members to their live connections, silently
// dropping identities that are not connected.
func (g *GroupRegistry) ResolveConnections(group string) []Connection {
	ids, _ := g.Members(group)

	conns := make([]Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := g.conns.GetByIdentity(id); ok {
			conns = append(conns, c)
		}
	}
	return conns
}
