package storage

import "github.com/zhouzirui/xiaohao/backend/internal/model/user"

// SaveUser writes the user record keyed by username, replacing any prior one.
func (s *FileStorage) SaveUser(u *user.User) bool {
	if u == nil {
		return false
	}
	return s.save(entityUser, usersDir, u.Username, u)
}

// LoadUser reads the user record for username.
func (s *FileStorage) LoadUser(username string) (*user.User, bool) {
	var u user.User
	if !s.load(entityUser, usersDir, username, &u) {
		return nil, false
	}
	if u.Username == "" {
		u.Username = username
	}
	return &u, true
}

// UserExists reports whether a user record exists for username.
func (s *FileStorage) UserExists(username string) bool {
	return s.exists(usersDir, username)
}
