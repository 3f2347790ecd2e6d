// Package batchid encodes the correlation identifier shared by messages that
// represent the same logical exchange replicated across sibling sessions of a
// group. The batch id is embedded into the message id itself so any component
// holding a message can recover the correlation without a lookup table.
package batchid

import (
	"strings"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/models"
)

// Message ids produced by Encode look like "b!{batchID}!{role}!{seq}". The
// "!" separator never appears in UUID-based ids, so decoding a plain id fails
// closed instead of producing a bogus batch id.
const (
	prefix    = "b"
	separator = "!"
)

// Decoded is the result of decoding a message id.
type Decoded struct {
	BatchID string
	Role    models.Role
	Valid   bool
}

// New returns a fresh batch id.
func New() string {
	return uuid.New().String()
}

// Encode builds a message id carrying the given batch id and role. The
// trailing sequence component keeps ids unique when the same exchange is
// re-dispatched into a session.
func Encode(batchID string, role models.Role) string {
	return strings.Join([]string{prefix, batchID, string(role), uuid.New().String()}, separator)
}

// Decode recovers the batch id and role from a message id. Ids not produced
// by Encode, including the plain uuid ids of ungrouped sessions, return
// Valid=false rather than an error.
func Decode(id string) Decoded {
	parts := strings.Split(id, separator)
	if len(parts) != 4 || parts[0] != prefix {
		return Decoded{}
	}

	role := models.Role(parts[2])
	switch role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
	default:
		return Decoded{}
	}

	if parts[1] == "" || parts[3] == "" {
		return Decoded{}
	}

	return Decoded{
		BatchID: parts[1],
		Role:    role,
		Valid:   true,
	}
}

// Matches reports whether id carries the given batch id with the given role.
// Delete operations correlate on (batch, role).
func Matches(id, batchID string, role models.Role) bool {
	d := Decode(id)
	return d.Valid && d.BatchID == batchID && d.Role == role
}

// SameBatch reports whether two ids belong to the same batch, regardless of
// role. Apply operations correlate across roles within a batch.
func SameBatch(a, b string) bool {
	da := Decode(a)
	db := Decode(b)
	return da.Valid && db.Valid && da.BatchID == db.BatchID
}
