package models

// PasswordChangeRequest carries the current and the desired password.
type PasswordChangeRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// TFARequest toggles two-factor authentication.
type TFARequest struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// ProfileUpdateRequest is the body of a profile update. Any subset of the
// fields may be present.
type ProfileUpdateRequest struct {
	Name     *string                `json:"name,omitempty"`
	Password *PasswordChangeRequest `json:"password,omitempty"`
	TFA      *TFARequest            `json:"tfa,omitempty"`
}

// ProfileView is returned by the profile endpoints. Token is set only after
// a rename, since tokens issued earlier still carry the old name.
type ProfileView struct {
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
	TFA    bool     `json:"tfa"`
	Token  string   `json:"token,omitempty"`
}
