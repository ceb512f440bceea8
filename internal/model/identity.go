package model

// Identity is the authenticated principal a bus connection belongs to.
type Identity struct {
	UserID string `json:"userId"`
	Token  string `json:"-"`
	Role   Role   `json:"role"`
}

func (i Identity) IsProvider() bool {
	return i.Role == RoleAstrologer
}

// Same reports whether two identities may share one connection.
func (i Identity) Same(other Identity) bool {
	return i.UserID == other.UserID && i.Token == other.Token
}
