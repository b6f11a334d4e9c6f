package dingtalk

import "github.com/giantswarm/sns-oauth/providers"

// Profile is the typed view of the user_info object returned by getuserinfo.
type Profile struct {
	OpenID  string
	UnionID string
	Nick    string
	DingID  string
}

// ParseProfile reads the known DingTalk fields from a getuserinfo payload.
func ParseProfile(raw providers.RawProfile) Profile {
	info := raw.Object(profileContainer)
	return Profile{
		OpenID:  providers.GetOptionalString(info, "openid"),
		UnionID: providers.GetOptionalString(info, "unionid"),
		Nick:    providers.GetOptionalString(info, "nick"),
		DingID:  providers.GetOptionalString(info, "dingId"),
	}
}

// ID returns the union id when present, else the open id.
func (p Profile) ID() string {
	if p.UnionID != "" {
		return p.UnionID
	}
	return p.OpenID
}
