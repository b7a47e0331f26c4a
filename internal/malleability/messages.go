package malleability

// Message shapes for the cluster-expansion RPC tags (spec §4.12), bound
// alongside the rest of the daemon's surface.

// ExpandStartInput names the cluster size transition an expansion moves
// between. OldN is not checked against the size the receiving daemon is
// currently distributing under; an expand_start that arrives while a
// redistribution is already running does not start a second one.
type ExpandStartInput struct {
	OldN int
	NewN int
}

// ExpandStatusOutput reports whether this node's background redistribution
// is still running (spec §4.12 step 4: "returns 1 while redistribution
// running, 0 when done").
type ExpandStatusOutput struct {
	Running bool
}
