package model

// User is the subset of an account record the realtime core reads.
// Accounts are owned by the authentication collaborator.
type User struct {
	ID             string `json:"_id" bson:"_id"`
	Username       string `json:"username" bson:"username"`
	ProfilePicture string `json:"profilePicture" bson:"profilePicture"`
}

// UserProfile is the public display snapshot of a user.
type UserProfile struct {
	ID             string `json:"_id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
}

// Profile returns the public snapshot of u.
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:             u.ID,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

// OnlineUsersResponse is the REST view of the presence set.
type OnlineUsersResponse struct {
	Success bool     `json:"success"`
	Users   []string `json:"users"`
}
