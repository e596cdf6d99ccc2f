package model

const (
	RoleUser       = "user"
	RoleOrgAdmin   = "org_admin"
	RoleSuperAdmin = "super_admin"
)

type User struct {
	ID             int    `db:"id" json:"id"`
	Email          string `db:"email" json:"email"`
	FirstName      string `db:"first_name" json:"first_name"`
	LastName       string `db:"last_name" json:"last_name"`
	Department     string `db:"department" json:"department"`
	OrganizationID *int   `db:"organization_id" json:"organization_id,omitempty"`
	Role           string `db:"role" json:"role"`
}

func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
