// Package policy computes which chat actions a role may attempt. The
// predicates gate UI affordances only; the backend re-enforces every rule and
// remains the trust boundary.
package policy

import (
	"github.com/Gamage-Recruiters/ems-chat/internal/chat"
	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

// elevated is the moderation role set: may delete any message, post notices,
// and administer channels.
var elevated = map[string]struct{}{
	session.RoleAdmin: {},
	session.RoleHR:    {},
}

// IsElevated reports whether the role belongs to the moderation set.
func IsElevated(role string) bool {
	_, ok := elevated[role]
	return ok
}

// CanEdit allows editing only the caller's own messages.
func CanEdit(s *session.Session, msg chat.Message) bool {
	if s == nil {
		return false
	}
	return msg.AuthorID == s.UserID
}

// CanDelete allows deleting own messages, or any message for elevated roles.
func CanDelete(s *session.Session, msg chat.Message) bool {
	if s == nil {
		return false
	}
	return msg.AuthorID == s.UserID || IsElevated(s.Role)
}

// CanSend reports whether the session may post into the channel: notice
// channels accept the elevated set only, regular and private channels
// require membership.
func CanSend(s *session.Session, ch proto.Channel) bool {
	if s == nil {
		return false
	}
	if ch.Kind == proto.ChannelNotice {
		return IsElevated(s.Role)
	}
	for _, id := range ch.MemberIDs {
		if id == s.UserID {
			return true
		}
	}
	return false
}

// CanAdminChannels reports whether the session may create, rename or delete
// non-private channels.
func CanAdminChannels(s *session.Session) bool {
	return s != nil && IsElevated(s.Role)
}
