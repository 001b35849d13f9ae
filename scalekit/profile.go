package scalekit

import (
	"fmt"
	"strings"

	"github.com/upb/multi-tenant-crm/models"
)

// ProfileFromClaims maps an id_token claim set onto an external identity.
// Each field takes the first non-empty string among its candidates:
//
//	subject            sub, id, user_id
//	email              email
//	organization ref   organization.id, organizationId, org_id, oid
//	organization name  organization.name, organizationName
//	given name         given_name, firstName, givenName
//	family name        family_name, lastName, familyName
func ProfileFromClaims(claims map[string]interface{}) models.ExternalIdentity {
	var org map[string]interface{}
	if o, ok := claims["organization"].(map[string]interface{}); ok {
		org = o
	}

	return models.ExternalIdentity{
		Subject:          deref(first(claims, "sub", "id", "user_id")),
		Email:            deref(first(claims, "email")),
		OrganizationRef:  firstOf(first(org, "id"), first(claims, "organizationId", "org_id", "oid")),
		OrganizationName: firstOf(first(org, "name"), first(claims, "organizationName")),
		GivenName:        first(claims, "given_name", "firstName", "givenName"),
		FamilyName:       first(claims, "family_name", "lastName", "familyName"),
	}
}

func first(m map[string]interface{}, keys ...string) *string {
	for _, k := range keys {
		if s := claimString(m[k]); s != "" {
			return &s
		}
	}
	return nil
}

func claimString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}

func firstOf(candidates ...*string) *string {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
