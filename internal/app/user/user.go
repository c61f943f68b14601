/*
Package user contains the representation of a chat participant.

The same User struct is carried in joined/user-list events, held as the client's current
user, and tracked by the relay for every connected session.
*/
package user

// User represents the identity and presence of a chat participant.
type User struct {
	// ID is the server-assigned identifier. Clients never invent one.
	ID string `json:"id"`

	// Username is the self-declared display name.
	Username string `json:"username"`

	// IsOnline reports whether the participant currently has a live session.
	IsOnline bool `json:"isOnline"`
}

// Online returns a copy of u marked online.
func (u User) Online() User {
	u.IsOnline = true
	return u
}

// CloneAll returns a copy of users that shares no backing array with the input.
func CloneAll(users []User) []User {
	if users == nil {
		return nil
	}
	out := make([]User, len(users))
	copy(out, users)
	return out
}
