package model

// Team is the directory view of a team, used for notification context titles.
type Team struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// RosterEntry is a point-in-time snapshot of a team member. No freshness guarantee.
type RosterEntry struct {
	UserID    string `json:"userId" yaml:"user_id"`
	UserName  string `json:"userName" yaml:"user_name"`
	UserEmail string `json:"userEmail" yaml:"user_email"`
	IsActive  bool   `json:"isActive" yaml:"is_active"`
}

// ActiveOnly filters out inactive roster entries, keeping roster order.
func ActiveOnly(roster []RosterEntry) []RosterEntry {
	out := make([]RosterEntry, 0, len(roster))
	for _, e := range roster {
		if e.IsActive {
			out = append(out, e)
		}
	}
	return out
}

// FindMember returns the roster entry for userID, if present.
func FindMember(roster []RosterEntry, userID string) (RosterEntry, bool) {
	for _, e := range roster {
		if e.UserID == userID {
			return e, true
		}
	}
	return RosterEntry{}, false
}
