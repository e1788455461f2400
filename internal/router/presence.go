package router

// Registry maps an identity to its single live connection.
//
// It is not internally synchronized: the Router serializes all access under
// its route mutex so that compound check-then-act sequences stay atomic.
type Registry struct {
	conns map[string]*Client
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Client)}
}

// Bind records c as the live connection for identity, unconditionally
// replacing any existing entry. The superseded connection, if any, is
// returned so the caller can close it; the registry never holds two
// connections for one identity.
func (r *Registry) Bind(identity string, c *Client) (superseded *Client) {
	superseded = r.conns[identity]
	r.conns[identity] = c
	return superseded
}

// Unbind removes the entry for identity only if it is still c. A late
// disconnect of a superseded connection must not clobber its replacement.
func (r *Registry) Unbind(identity string, c *Client) bool {
	if r.conns[identity] != c {
		return false
	}
	delete(r.conns, identity)
	return true
}

// Lookup returns the live connection for identity, or nil.
func (r *Registry) Lookup(identity string) *Client {
	return r.conns[identity]
}

// Rename moves the entry for oldIdentity, if present, to newIdentity and
// returns the moved connection.
func (r *Registry) Rename(oldIdentity, newIdentity string) *Client {
	c, ok := r.conns[oldIdentity]
	if !ok {
		return nil
	}
	delete(r.conns, oldIdentity)
	r.conns[newIdentity] = c
	return c
}

// Online reports which of the registry's identities are connected.
func (r *Registry) Online() map[string]bool {
	online := make(map[string]bool, len(r.conns))
	for identity := range r.conns {
		online[identity] = true
	}
	return online
}
