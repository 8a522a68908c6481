// internal/model/owner.go
package model

import "strings"

// OwnerType discriminates the Owner variant.
type OwnerType string

const (
	OwnerUser         OwnerType = "User"
	OwnerOrganization OwnerType = "Organization"
)

// Owner is a User or an Organization. Type selects which of User and
// Organization carries the variant payload; the other is nil.
type Owner struct {
	Type  OwnerType
	Login string
	URL   string
	Email string
	Name  string

	User         *UserFields
	Organization *OrganizationFields
}

// UserFields are only present on User owners.
type UserFields struct {
	Company         string
	TwitterUsername string
}

// OrganizationFields are only present on Organization owners.
type OrganizationFields struct {
	WebsiteURL string
}

// NewUser builds a User owner.
func NewUser(login string, fields UserFields) Owner {
	return Owner{Type: OwnerUser, Login: login, User: &fields}
}

// NewOrganization builds an Organization owner.
func NewOrganization(login string, fields OrganizationFields) Owner {
	return Owner{Type: OwnerOrganization, Login: login, Organization: &fields}
}

// Valid reports whether the owner can be merged: it needs a login and a
// known discriminant.
func (o Owner) Valid() bool {
	if strings.TrimSpace(o.Login) == "" {
		return false
	}
	return o.Type == OwnerUser || o.Type == OwnerOrganization
}

// Label returns the variant label added next to LabelOwner.
func (o Owner) Label() string {
	if o.Type == OwnerOrganization {
		return LabelOrganization
	}
	return LabelUser
}

// Properties returns the mutable attributes of the owner keyed by their
// graph property names. Empty values are omitted so a sparse record never
// erases attributes learned from a richer one.
func (o Owner) Properties() map[string]any {
	props := map[string]any{
		"login":      o.Login,
		"__typename": string(o.Type),
	}
	put := func(k, v string) {
		if v != "" {
			props[k] = v
		}
	}
	put("url", o.URL)
	put("email", o.Email)
	put("name", o.Name)

	switch o.Type {
	case OwnerUser:
		if o.User != nil {
			put("company", o.User.Company)
			put("twitterUsername", o.User.TwitterUsername)
		}
	case OwnerOrganization:
		if o.Organization != nil {
			put("websiteUrl", o.Organization.WebsiteURL)
		}
	}
	return props
}
