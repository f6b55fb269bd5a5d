package types

import "regexp"

var mrnPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,63}$`)

// IsValidMRN reports whether s is an acceptable medical record number:
// alphanumeric with dashes, up to 64 characters.
func IsValidMRN(s string) bool {
	return mrnPattern.MatchString(s)
}

// IsValidClientType reports whether s names a known client role.
func IsValidClientType(s string) bool {
	return s == RoleAuthoring || s == RoleViewing
}
