// Package pairing locates the user/assistant pair behind a resend or retry.
// Resolution is a pure function of a message list snapshot, so it performs no
// mutation and no I/O.
package pairing

import (
	"slices"

	"github.com/parley-chat/parley/internal/models"
)

// Resolution names the request/response pair for a resend. RequestIndex is
// the index of the user message in the snapshot, which is also the truncation
// point for re-issuing the request. Assistant may be nil when the response
// never arrived.
type Resolution struct {
	User         *models.Message
	Assistant    *models.Message
	RequestIndex int
}

// Found reports whether the target message was located and paired.
func (r Resolution) Found() bool {
	return r.RequestIndex >= 0 && r.User != nil
}

// Resolve locates the user/assistant pair for the message with the given id.
//
// If the target is an assistant message, the nearest preceding user message
// becomes the request. If the target is a user message, it is the request
// itself and the nearest following assistant message (if any) is its
// response. System messages are never resendable; resolving one returns a
// not-found resolution.
func Resolve(messages []models.Message, messageID string) Resolution {
	none := Resolution{RequestIndex: -1}

	i := slices.IndexFunc(messages, func(m models.Message) bool { return m.ID == messageID })
	if i == -1 {
		return none
	}

	switch messages[i].Role {
	case models.RoleAssistant:
		for j := i - 1; j >= 0; j-- {
			if messages[j].Role == models.RoleUser {
				return Resolution{
					User:         &messages[j],
					Assistant:    &messages[i],
					RequestIndex: j,
				}
			}
		}
		return none

	case models.RoleUser:
		res := Resolution{
			User:         &messages[i],
			RequestIndex: i,
		}
		for j := i + 1; j < len(messages); j++ {
			if messages[j].Role == models.RoleAssistant {
				res.Assistant = &messages[j]
				break
			}
		}
		return res

	default:
		return none
	}
}
