package server

import (
	"errors"
	"time"

	"github.com/giantswarm/sns-oauth/providers"
)

// Claim types shared with WS-* based hosts.
const (
	ClaimTypeNameIdentifier = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
	ClaimTypeName           = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"

	ClaimValueTypeString   = "http://www.w3.org/2001/XMLSchema#string"
	ClaimValueTypeDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
)

// Provider specific claim suffixes, prefixed with the provider's namespace.
const (
	ClaimOpenID                = "openid"
	ClaimUnionID               = "unionid"
	ClaimAccessToken           = "accesstoken"
	ClaimRefreshToken          = "refreshtoken"
	ClaimAccessTokenExpiresUTC = "accesstokenexpiresutc"
)

// ErrSubjectUnresolvable is returned when neither a union id nor an open id is known.
var ErrSubjectUnresolvable = errors.New("subject id unresolvable: no union id or open id")

// Claim is one identity attribute.
type Claim struct {
	Type      string
	Value     string
	ValueType string
}

// Identity is the verified result of a login.
//
// SECURITY: Claims and Tokens carry provider credentials. Never log them.
type Identity struct {
	// SubjectID is the union id when known, else the open id. Never empty.
	SubjectID string

	Provider string
	Claims   []Claim
	Tokens   providers.Tokens
	Profile  providers.RawProfile
}

// FindClaim returns the first claim of the given type.
func (i *Identity) FindClaim(claimType string) (Claim, bool) {
	for _, c := range i.Claims {
		if c.Type == claimType {
			return c, true
		}
	}
	return Claim{}, false
}

// Name returns the display name claim, or "".
func (i *Identity) Name() string {
	c, _ := i.FindClaim(ClaimTypeName)
	return c.Value
}

// AddClaim appends a claim unless value is empty.
func (i *Identity) AddClaim(claimType, value, valueType string) {
	if value == "" {
		return
	}
	i.Claims = append(i.Claims, Claim{Type: claimType, Value: value, ValueType: valueType})
}

// AssembleIdentity builds the identity for an exchange result. The expiry
// claim is computed from now. It only fails when no subject id can be found.
func AssembleIdentity(cfg *providers.Config, result *providers.ExchangeResult, now time.Time) (*Identity, error) {
	if cfg == nil || result == nil {
		return nil, ErrSubjectUnresolvable
	}

	fields := result.Profile.Object(cfg.ProfileKeys.Container)

	openID := providers.GetOptionalString(fields, cfg.ProfileKeys.OpenID)
	if openID == "" {
		openID = result.OpenID
	}
	unionID := ""
	if cfg.ProfileKeys.UnionID != "" {
		unionID = providers.GetOptionalString(fields, cfg.ProfileKeys.UnionID)
	}
	if unionID == "" {
		unionID = result.UnionID
	}

	subjectID := unionID
	if subjectID == "" {
		subjectID = openID
	}
	if subjectID == "" {
		return nil, ErrSubjectUnresolvable
	}

	identity := &Identity{
		SubjectID: subjectID,
		Provider:  cfg.Name,
		Tokens:    result.Tokens,
		Profile:   result.Profile,
	}

	identity.AddClaim(ClaimTypeNameIdentifier, subjectID, ClaimValueTypeString)
	if cfg.ProfileKeys.Name != "" {
		identity.AddClaim(ClaimTypeName, providers.GetOptionalString(fields, cfg.ProfileKeys.Name), ClaimValueTypeString)
	}
	identity.AddClaim(cfg.ClaimType(ClaimOpenID), openID, ClaimValueTypeString)
	identity.AddClaim(cfg.ClaimType(ClaimUnionID), unionID, ClaimValueTypeString)
	identity.AddClaim(cfg.ClaimType(ClaimAccessToken), result.Tokens.AccessToken, ClaimValueTypeString)
	identity.AddClaim(cfg.ClaimType(ClaimRefreshToken), result.Tokens.SecondaryToken, ClaimValueTypeString)
	if result.Tokens.ExpiresIn > 0 {
		expiresAt := now.Add(result.Tokens.ExpiresIn).UTC().Format(time.RFC3339)
		identity.AddClaim(cfg.ClaimType(ClaimAccessTokenExpiresUTC), expiresAt, ClaimValueTypeDateTime)
	}

	return identity, nil
}
