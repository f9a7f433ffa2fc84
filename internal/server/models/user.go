// Package models defines the storage service data model: ACL rules, file
// versions, file records and the request/response payloads built from them.
package models

import "time"

// User is an identity known to the service, with the ed25519 public key its
// authorisation tokens are verified against.
type User struct {
	GUID      string
	PublicKey []byte
	CreatedAt time.Time
}

// DriveACL is one drive-level access rule.
type DriveACL struct {
	DriveUID string
	UserGUID string
	Rule     ACLRule
}
