package models

import (
	"errors"

	"github.com/google/uuid"
)

type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

var ErrRoleNotAllowed = errors.New("role may not own uploads")

// Principal is the authenticated caller as resolved by the auth middleware.
type Principal struct {
	UserID uuid.UUID
	Role   UserRole
}

func (p Principal) CanUpload() bool {
	return p.Role == RoleTeacher || p.Role == RoleStudent
}

// StoragePrefix is the owner segment of a storage key.
func (p Principal) StoragePrefix() string {
	if p.UserID == uuid.Nil || !p.CanUpload() {
		return "anonymous"
	}
	return string(p.Role) + "_" + p.UserID.String()
}
