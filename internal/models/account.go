package models

import (
	"slices"
	"strings"
	"time"
)

// Permission is an action an account may perform on documents.
type Permission string

const (
	PermissionUpload   Permission = "upload"
	PermissionDownload Permission = "download"
	PermissionView     Permission = "view"
)

// AllPermissions lists every valid permission.
var AllPermissions = []Permission{PermissionUpload, PermissionDownload, PermissionView}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	return slices.Contains(AllPermissions, p)
}

// Account is a user record. PasswordHash is a bcrypt hash, never a plaintext password.
type Account struct {
	Username     string       `json:"username"`
	PasswordHash string       `json:"-" msgpack:"-"`
	Projects     []string     `json:"projects"`
	Permissions  []Permission `json:"permissions"`
	Admin        bool         `json:"admin"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// HasPermission reports whether the account holds permission p.
func (a *Account) HasPermission(p Permission) bool {
	return slices.Contains(a.Permissions, p)
}

// CanBrowse reports whether the account may list, search or preview documents.
func (a *Account) CanBrowse() bool {
	return a.HasPermission(PermissionView) || a.HasPermission(PermissionDownload)
}

// HasProject reports whether the project is assigned to the account.
func (a *Account) HasProject(project string) bool {
	return slices.Contains(a.Projects, project)
}

// JoinList stores a list as the comma-joined column format used by the account table.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// SplitList parses a comma-joined column, dropping empty and padded items.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
