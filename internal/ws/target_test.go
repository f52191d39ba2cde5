package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newSelectorFixture() (*ConnectionRegistry, *GroupRegistry, *TargetSelector) {
	conns := NewConnectionRegistry()
	groups := NewGroupRegistry(conns)
	return conns, groups, NewTargetSelector(conns, groups)
}

func TestTarget_All(t *testing.T) {
	conns, _, sel := newSelectorFixture()
	a, b := newFakeConn(), newFakeConn()
	conns.Put("a", a)
	conns.Put("b", b)

	aud := sel.Resolve(All())
	assert.Equal(t, channelAll, aud.ChannelKey)
	assert.False(t, aud.Direct)
	assert.ElementsMatch(t, []Connection{a, b}, aud.Conns)
}

func TestTarget_OthersExcludesSelf(t *testing.T) {
	conns, _, sel := newSelectorFixture()
	x := newFakeConn()
	conns.Put("x", x)

	aud := sel.Resolve(Others(x))
	assert.Empty(t, aud.Conns, "sender alone must yield an empty audience")
	assert.Equal(t, channelOthers, aud.ChannelKey)

	y := newFakeConn()
	conns.Put("y", y)
	aud = sel.Resolve(Others(x))
	assert.Equal(t, []Connection{y}, aud.Conns)
}

func TestTarget_SingleClient(t *testing.T) {
	conns, _, sel := newSelectorFixture()
	a := newFakeConn()
	conns.Put("a", a)

	aud := sel.Resolve(SingleClient("a"))
	assert.True(t, aud.Direct)
	assert.Equal(t, []Connection{a}, aud.Conns)

	aud = sel.Resolve(SingleClient("ghost"))
	assert.True(t, aud.Direct)
	assert.Empty(t, aud.Conns)
}

func TestTarget_Group(t *testing.T) {
	conns, groups, sel := newSelectorFixture()
	a := newFakeConn()
	conns.Put("a", a)
	groups.AddToGroup("raid1", "a")
	groups.AddToGroup("raid1", "offline")

	aud := sel.Resolve(Group("raid1"))
	assert.Equal(t, "raid1", aud.ChannelKey)
	assert.Equal(t, []Connection{a}, aud.Conns)
}
