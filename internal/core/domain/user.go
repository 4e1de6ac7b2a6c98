package domain

type Role string

const (
	RoleHospitalAdmin Role = "hospital_admin"
	RoleManager       Role = "manager"
	RoleWardStaff     Role = "ward_staff"
	RoleERStaff       Role = "er_staff"
	RoleTechnicalTeam Role = "technical_team"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHospitalAdmin, RoleManager, RoleWardStaff, RoleERStaff, RoleTechnicalTeam:
		return true
	}
	return false
}

// User is the session principal returned by the auth endpoints.
type User struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Role           Role     `json:"role"`
	Ward           string   `json:"ward,omitempty"`
	AssignedWards  []string `json:"assignedWards,omitempty"`
	ProfilePicture string   `json:"profilePicture,omitempty"`
}

// CoversWard reports whether the user is scoped to the given ward.
// Users without any ward assignment see every ward.
func (u User) CoversWard(ward string) bool {
	if u.Ward == "" && len(u.AssignedWards) == 0 {
		return true
	}
	if u.Ward == ward {
		return true
	}
	for _, w := range u.AssignedWards {
		if w == ward {
			return true
		}
	}
	return false
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Password      string   `json:"password"`
	Role          Role     `json:"role"`
	Ward          string   `json:"ward,omitempty"`
	AssignedWards []string `json:"assignedWards,omitempty"`
}

type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
