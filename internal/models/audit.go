package models

import "time"

// Action tags recorded in the audit log.
const (
	ActionUpload         = "upload"
	ActionArchived       = "archived"
	ActionView           = "view"
	ActionDownload       = "download"
	ActionSearch         = "search"
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionRegister       = "register"
	ActionUserUpdate     = "user_update"
	ActionUserDelete     = "user_delete"
	ActionTaxonomyUpdate = "taxonomy_update"
)

// AuditRecord is one append-only entry of the action log.
type AuditRecord struct {
	ID        int64     `json:"id" msgpack:"id"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	User      string    `json:"user" msgpack:"user"`
	Action    string    `json:"action" msgpack:"action"`
	File      string    `json:"file" msgpack:"file"` // file path or descriptive note
}
