package enums

import "fmt"

// Role is the platform-level role carried in access tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

func ParseRole(value string) (Role, error) {
	r := Role(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role %q", value)
	}
	return r, nil
}
