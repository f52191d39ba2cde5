package ws

type TargetKind int

const (
	TargetAll TargetKind = iota
	TargetOthers
	TargetSingleClient
	TargetGroup
)

const (
	channelAll    = "all"
	channelOthers = "others"
)

// Target names an audience before it is resolved against the registries.
type Target struct {
	Kind     TargetKind
	Self     Connection
	Identity Identity
	Group    string
}

func All() Target                     { return Target{Kind: TargetAll} }
func Others(self Connection) Target   { return Target{Kind: TargetOthers, Self: self} }
func SingleClient(id Identity) Target { return Target{Kind: TargetSingleClient, Identity: id} }
func Group(name string) Target        { return Target{Kind: TargetGroup, Group: name} }

// Audience is a resolved, immutable recipient set. Direct audiences skip the
// broadcast scheduler.
type Audience struct {
	Conns      []Connection
	ChannelKey string
	Direct     bool
}

type TargetSelector struct {
	conns  *ConnectionRegistry
	groups *GroupRegistry
}

func NewTargetSelector(conns *ConnectionRegistry, groups *GroupRegistry) *TargetSelector {
	return &TargetSelector{conns: conns, groups: groups}
}

func (s *TargetSelector) Resolve(t Target) Audience {
	switch t.Kind {
	case TargetAll:
		return Audience{Conns: s.conns.AllConnections(), ChannelKey: channelAll}

	case TargetOthers:
		all := s.conns.AllConnections()
		conns := make([]Connection, 0, len(all))
		for _, c := range all {
			if t.Self != nil && c == t.Self {
				continue
			}
			conns = append(conns, c)
		}
		return Audience{Conns: conns, ChannelKey: channelOthers}

	case TargetSingleClient:
		if c, ok := s.conns.GetByIdentity(t.Identity); ok {
			return Audience{Conns: []Connection{c}, Direct: true}
		}
		return Audience{Direct: true}

	case TargetGroup:
		return Audience{Conns: s.groups.ResolveConnections(t.Group), ChannelKey: t.Group}
	}
	return Audience{}
}
