// Package permission resolves a principal's role on a document and checks
// that role against the capability a requested action needs, per spec §4.2.
package permission

import (
	"collabdocs/internal/document"
)

// Action is a capability an inbound request needs authorization for.
type Action string

const (
	ActionRead        Action = "read"
	ActionEdit        Action = "edit"
	ActionManageRoles Action = "manage_roles"
	ActionDelete      Action = "delete"
)

// capabilities maps each role to the set of actions it's allowed to perform.
// Owner and admin are handled as short-circuits before this table is ever
// consulted. guest maps to the empty set per spec §4.2: absent or guest is
// denied, not granted read.
var capabilities = map[document.Role]map[Action]bool{
	document.RoleEditor: {
		ActionRead: true,
		ActionEdit: true,
	},
	document.RoleViewer: {
		ActionRead: true,
	},
	document.RoleGuest: {},
}

// Gate resolves roles and checks capabilities for one document registry.
// AdminIDs names principals that bypass the permission table entirely
// (spec §4.2's admin short-circuit).
type Gate struct {
	AdminIDs map[string]bool
}

// New builds a Gate with the given set of admin user ids.
func New(adminIDs ...string) *Gate {
	set := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		set[id] = true
	}
	return &Gate{AdminIDs: set}
}

// RoleOf resolves userID's effective role on doc: admin and owner both short-
// circuit to document.RoleOwner, otherwise the document's permissions
// table is consulted, defaulting to guest for a principal absent from it.
func (g *Gate) RoleOf(doc *document.Document, userID string) document.Role {
	if g.AdminIDs[userID] {
		return document.RoleOwner
	}
	if doc.OwnerID == userID {
		return document.RoleOwner
	}
	if role, ok := doc.Permissions[userID]; ok {
		return role
	}
	return document.RoleGuest
}

// Check reports whether userID may perform action on doc, returning
// document.ErrDenied when not.
func (g *Gate) Check(doc *document.Document, userID string, action Action) error {
	if doc == nil {
		return document.ErrNotFound
	}
	role := g.RoleOf(doc, userID)
	if role == document.RoleOwner {
		return nil
	}
	if capabilities[role][action] {
		return nil
	}
	return document.ErrDenied
}

// SetRole changes targetID's role on doc as requested by actorID, enforcing
// spec §4.2's role-mutation rules: only an admin or the document's owner may
// change roles, the owner's and an admin's roles can't be altered by a
// non-admin (document.ErrProtected), and
// assigning document.RoleGuest removes the explicit permissions entry
// (principals default to guest when absent).
func (g *Gate) SetRole(doc *document.Document, actorID, targetID string, role document.Role) error {
	if doc == nil {
		return document.ErrNotFound
	}
	isAdmin := g.AdminIDs[actorID]
	if !isAdmin && doc.OwnerID != actorID {
		return document.ErrDenied
	}
	if (targetID == doc.OwnerID || g.AdminIDs[targetID]) && !isAdmin {
		return document.ErrProtected
	}
	if targetID == "" {
		return document.ErrInvalidTarget
	}
	if doc.Permissions == nil {
		doc.Permissions = make(map[string]document.Role)
	}
	if role == document.RoleGuest {
		delete(doc.Permissions, targetID)
		return nil
	}
	doc.Permissions[targetID] = role
	return nil
}
