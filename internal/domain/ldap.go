package domain

import "sort"

// LdapGroupMapping maps a directory group to a role with a priority used to
// break ties when a user belongs to groups mapped to different roles —
// higher priority wins.
type LdapGroupMapping struct {
	ID                       string
	DirectoryGroupIdentifier string
	Role                     UserRole
	Priority                 int
}

// ResolveRole picks the highest-priority mapping whose group identifier
// appears in memberGroups. Returns ok=false when none of the user's groups
// have a mapping, leaving the caller to apply its own default role.
func ResolveRole(mappings []LdapGroupMapping, memberGroups []string) (role UserRole, ok bool) {
	member := make(map[string]bool, len(memberGroups))
	for _, g := range memberGroups {
		member[g] = true
	}

	matched := make([]LdapGroupMapping, 0, len(mappings))
	for _, m := range mappings {
		if member[m.DirectoryGroupIdentifier] {
			matched = append(matched, m)
		}
	}
	if len(matched) == 0 {
		return "", false
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })
	return matched[0].Role, true
}
