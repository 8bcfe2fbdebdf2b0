package models

import "slices"

// Implicit groups every authenticated user belongs to.
const (
	GroupAll           = "$all"
	GroupAuthenticated = "$authenticated"
)

// Identity is the caller resolved from a verified token. It lives for a
// single request and is never persisted.
type Identity struct {
	Name string
	// Groups includes the implicit registry groups.
	Groups []string
	// RealGroups holds only the groups stored for the user.
	RealGroups []string
}

// NewIdentity builds an identity for name with the stored groups.
func NewIdentity(name string, realGroups []string) *Identity {
	stored := append([]string(nil), realGroups...)
	groups := append([]string(nil), stored...)
	for _, g := range []string{GroupAll, GroupAuthenticated} {
		if !slices.Contains(groups, g) {
			groups = append(groups, g)
		}
	}
	return &Identity{Name: name, Groups: groups, RealGroups: stored}
}

// InGroup reports whether the identity belongs to group.
func (i *Identity) InGroup(group string) bool {
	return slices.Contains(i.Groups, group)
}
