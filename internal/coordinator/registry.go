package coordinator

import "strings"

// Registry maps connections to identities and back. Not safe for concurrent use;
// the Coordinator serialises access.
type Registry struct {
	byConn     map[ConnID]Identity
	byIdentity map[string]ConnID
}

func NewRegistry() *Registry {
	return &Registry{byConn: make(map[ConnID]Identity), byIdentity: make(map[string]ConnID)}
}

// Bind maps conn <-> identity, last write wins for both keys. It returns the connection that
// previously held the identity, if it was a different one.
func (r *Registry) Bind(conn ConnID, id Identity) (ConnID, bool) {
	key := strings.TrimSpace(id.ID)
	if prev, ok := r.byConn[conn]; ok && prev.ID != key {
		if r.byIdentity[prev.ID] == conn {
			delete(r.byIdentity, prev.ID)
		}
	}
	var superseded ConnID
	had := false
	if other, ok := r.byIdentity[key]; ok && other != conn {
		delete(r.byConn, other)
		superseded, had = other, true
	}
	id.ID = key
	r.byConn[conn] = id
	r.byIdentity[key] = conn
	return superseded, had
}

func (r *Registry) IdentityOf(conn ConnID) (Identity, bool) {
	id, ok := r.byConn[conn]
	return id, ok
}

func (r *Registry) ConnectionOf(identityID string) (ConnID, bool) {
	c, ok := r.byIdentity[strings.TrimSpace(identityID)]
	return c, ok
}

// Unbind removes both directions for conn; unknown connections are ignored.
func (r *Registry) Unbind(conn ConnID) {
	id, ok := r.byConn[conn]
	if !ok { return }
	delete(r.byConn, conn)
	if r.byIdentity[id.ID] == conn {
		delete(r.byIdentity, id.ID)
	}
}

func (r *Registry) Len() int { return len(r.byConn) }
