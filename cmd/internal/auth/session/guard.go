package session

// Access is the level a route requires.
type Access int

const (
	AccessPublic Access = iota
	AccessUser
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessUser:
		return "user"
	case AccessAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Guard decides whether s may enter a route requiring need.
// The pending window passes AccessUser but never AccessAdmin.
func Guard(s Session, need Access) error {
	switch need {
	case AccessPublic:
		return nil
	case AccessUser:
		if !s.IsLoggedIn {
			return ErrNotLoggedIn
		}
		return nil
	case AccessAdmin:
		if !s.IsLoggedIn {
			return ErrNotLoggedIn
		}
		if !s.IsAdmin() {
			return ErrForbidden
		}
		return nil
	default:
		return ErrForbidden
	}
}
