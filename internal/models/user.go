// Package models contains data models for the registry auth service.
package models

// User is a credential record as persisted by a credential store.
type User struct {
	Username     string   `json:"name"`
	PasswordHash string   `json:"-"`
	Groups       []string `json:"groups"`
	TFAEnabled   bool     `json:"tfa"`
}

// Clone returns a copy that shares no slices with u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Groups = append([]string(nil), u.Groups...)
	return &c
}
