package ports

// SelectOwnerResponse is the body returned by a node-selector when resolving
// the owner for a path.
type SelectOwnerResponse struct {
	Key              string `json:"key,omitempty"`
	IsLocalHostOwner bool   `json:"isLocalHostOwner"`
	OwnerNodeID      string `json:"ownerNodeId,omitempty"`
	OwnerAddress     string `json:"ownerAddress,omitempty"`
}
