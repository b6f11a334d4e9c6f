package wechat

import (
	"strconv"

	"github.com/giantswarm/sns-oauth/providers"
)

// Gender values reported in the "sex" field.
const (
	GenderUnknown = 0
	GenderMale    = 1
	GenderFemale  = 2
)

// Profile is the typed view of a WeChat userinfo payload.
type Profile struct {
	OpenID     string
	UnionID    string
	Nickname   string
	Gender     int
	Province   string
	City       string
	Country    string
	Language   string
	HeadImgURL string

	// Privilege lists carrier privileges such as "chinaunicom".
	Privilege []string
}

// ParseProfile reads the known WeChat fields. Missing or mistyped fields are
// left at their zero value.
func ParseProfile(raw providers.RawProfile) Profile {
	p := Profile{
		OpenID:     providers.GetOptionalString(raw, "openid"),
		UnionID:    providers.GetOptionalString(raw, "unionid"),
		Nickname:   providers.GetOptionalString(raw, "nickname"),
		Province:   providers.GetOptionalString(raw, "province"),
		City:       providers.GetOptionalString(raw, "city"),
		Country:    providers.GetOptionalString(raw, "country"),
		Language:   providers.GetOptionalString(raw, "language"),
		HeadImgURL: providers.GetOptionalString(raw, "headimgurl"),
	}

	if sex, err := strconv.Atoi(providers.GetOptionalString(raw, "sex")); err == nil {
		p.Gender = sex
	}

	if list, ok := raw["privilege"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				p.Privilege = append(p.Privilege, s)
			}
		}
	}

	return p
}

// ID returns the union id when present, else the open id.
func (p Profile) ID() string {
	if p.UnionID != "" {
		return p.UnionID
	}
	return p.OpenID
}
