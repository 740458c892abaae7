package domain

// Capability flags declared by a service or factory. They drive the routing
// decision: owner-selected paths are forwarded to the owning node, utility
// paths defer to their parent, factories route their children.
type Capability string

const (
	CapabilityOwnerSelection Capability = "OWNER_SELECTION"
	CapabilityReplication    Capability = "REPLICATION"
	CapabilityPersistence    Capability = "PERSISTENCE"
	CapabilityFactory        Capability = "FACTORY"
	CapabilityUtility        Capability = "UTILITY"
)

type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func (s CapabilitySet) Add(c Capability) {
	s[c] = struct{}{}
}

func (s CapabilitySet) Clone() CapabilitySet {
	if s == nil {
		return nil
	}
	clone := make(CapabilitySet, len(s))
	for c := range s {
		clone[c] = struct{}{}
	}
	return clone
}

// RegistryEntry is the capability view of one registered service path.
type RegistryEntry struct {
	Capabilities CapabilitySet

	// ChildCapabilities is the option set a factory declares for the services
	// it creates. Nil for non-factories.
	ChildCapabilities CapabilitySet
}

// RegistrySnapshot is an immutable path-to-entry view of the service registry,
// decoupled from the live registry so routing resolution stays a pure function.
type RegistrySnapshot map[string]RegistryEntry

// RoutingResolution is the outcome of resolving capabilities for a request
// path.
type RoutingResolution struct {
	// Capabilities applicable to the path. Nil when they could not be
	// determined directly or indirectly.
	Capabilities CapabilitySet

	// EffectivePath is the path ownership is computed against: the service
	// path after stripping one level of utility indirection.
	EffectivePath string

	// ServiceKnown reports whether a service is registered at the request
	// path itself.
	ServiceKnown bool
}

// ResolveRouting computes the capability set applicable to path from a
// registry snapshot.
//
// A known service contributes its own capabilities, except that a utility
// sub-resource inherits its parent's. An unknown path's capabilities are
// inferred from the nearest ancestor factory: the factory's own flags plus
// whichever of owner-selection, replication and persistence it declares for
// its children. The inference applies even though the concrete service does
// not exist locally yet.
func ResolveRouting(path string, snapshot RegistrySnapshot) RoutingResolution {
	res := RoutingResolution{EffectivePath: path}

	if entry, ok := snapshot[path]; ok {
		res.ServiceKnown = true
		caps := entry.Capabilities
		if caps.Has(CapabilityUtility) {
			parent := ParentPath(path)
			res.EffectivePath = parent
			if parentEntry, ok := snapshot[parent]; ok {
				caps = parentEntry.Capabilities
			}
		}
		res.Capabilities = caps.Clone()
		return res
	}

	servicePath := path
	if IsUtilityPath(servicePath) {
		servicePath = ParentPath(servicePath)
	}
	res.EffectivePath = servicePath

	factoryPath := ParentPath(servicePath)
	if factoryPath == "" {
		return res
	}
	factory, ok := snapshot[factoryPath]
	if !ok {
		return res
	}

	caps := factory.Capabilities.Clone()
	if factory.Capabilities.Has(CapabilityFactory) {
		for _, c := range []Capability{CapabilityOwnerSelection, CapabilityReplication, CapabilityPersistence} {
			if factory.ChildCapabilities.Has(c) {
				caps.Add(c)
			}
		}
	}
	res.Capabilities = caps
	return res
}
