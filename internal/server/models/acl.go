package models

import (
	"fmt"
	"maps"
)

// ACLRule is the access granted to a user on a drive or on one version of a
// file. ACLInherit on a version means "use the drive rule"; on a drive it
// means "no entry", which resolves to a denial.
type ACLRule int

const (
	ACLInherit ACLRule = iota
	ACLDeny
	ACLReadOnly
	ACLReadWrite
	ACLOwner
)

var aclNames = map[ACLRule]string{
	ACLInherit:   "inherit",
	ACLDeny:      "deny",
	ACLReadOnly:  "read",
	ACLReadWrite: "readwrite",
	ACLOwner:     "owner",
}

func (r ACLRule) String() string {
	if s, ok := aclNames[r]; ok {
		return s
	}
	return fmt.Sprintf("ACLRule(%d)", int(r))
}

// CanRead reports whether the rule allows reading content.
func (r ACLRule) CanRead() bool {
	return r == ACLReadOnly || r == ACLReadWrite || r == ACLOwner
}

// CanWrite reports whether the rule allows uploading new versions.
func (r ACLRule) CanWrite() bool {
	return r == ACLReadWrite || r == ACLOwner
}

func (r ACLRule) MarshalText() ([]byte, error) {
	s, ok := aclNames[r]
	if !ok {
		return nil, fmt.Errorf("unknown acl rule %d", int(r))
	}
	return []byte(s), nil
}

func (r *ACLRule) UnmarshalText(b []byte) error {
	rule, err := ParseACLRule(string(b))
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// ParseACLRule parses the text form produced by String.
func ParseACLRule(s string) (ACLRule, error) {
	for rule, name := range aclNames {
		if name == s {
			return rule, nil
		}
	}
	return ACLDeny, fmt.Errorf("unknown acl rule %q", s)
}

// ACLOverrides maps a user GUID to the rule that overrides the drive rule
// for one version.
type ACLOverrides map[string]ACLRule

// Get returns the override for user, or ACLInherit when there is none.
func (o ACLOverrides) Get(userGUID string) ACLRule {
	if rule, ok := o[userGUID]; ok {
		return rule
	}
	return ACLInherit
}

// Clone returns an independent copy; nil stays nil.
func (o ACLOverrides) Clone() ACLOverrides {
	if o == nil {
		return nil
	}
	return maps.Clone(o)
}
