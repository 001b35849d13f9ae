package models

// ExternalIdentity is the normalized profile returned by the identity
// provider after a successful login. Optional fields are nil when the
// provider did not supply them.
type ExternalIdentity struct {
	Subject          string
	Email            string
	OrganizationRef  *string
	OrganizationName *string
	GivenName        *string
	FamilyName       *string
}
