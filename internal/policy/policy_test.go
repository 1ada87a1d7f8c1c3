package policy

import (
	"testing"

	"github.com/Gamage-Recruiters/ems-chat/internal/chat"
	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

func TestIsElevated(t *testing.T) {
	if !IsElevated(session.RoleAdmin) || !IsElevated(session.RoleHR) {
		t.Fatal("admin and hr must be elevated")
	}
	if IsElevated(session.RoleManager) || IsElevated(session.RoleDeveloper) {
		t.Fatal("manager and developer must not be elevated")
	}
}

func TestCanEditOwnMessagesOnly(t *testing.T) {
	admin := &session.Session{UserID: "u-admin", Role: session.RoleAdmin}
	author := &session.Session{UserID: "u-author", Role: session.RoleDeveloper}
	msg := chat.Message{ID: "m1", AuthorID: "u-author"}

	if !CanEdit(author, msg) {
		t.Fatal("author must be able to edit own message")
	}
	// Elevation grants deletion, never editing of others' content.
	if CanEdit(admin, msg) {
		t.Fatal("admin must not edit someone else's message")
	}
	if CanEdit(nil, msg) {
		t.Fatal("nil session must not edit")
	}
}

func TestCanDelete(t *testing.T) {
	msg := chat.Message{ID: "m1", AuthorID: "u-author"}

	cases := []struct {
		name string
		sess *session.Session
		want bool
	}{
		{"author", &session.Session{UserID: "u-author", Role: session.RoleDeveloper}, true},
		{"admin", &session.Session{UserID: "u-admin", Role: session.RoleAdmin}, true},
		{"hr", &session.Session{UserID: "u-hr", Role: session.RoleHR}, true},
		{"other developer", &session.Session{UserID: "u-other", Role: session.RoleDeveloper}, false},
		{"manager", &session.Session{UserID: "u-mgr", Role: session.RoleManager}, false},
	}
	for _, tc := range cases {
		if got := CanDelete(tc.sess, msg); got != tc.want {
			t.Fatalf("%s: CanDelete = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanSendNoticeChannel(t *testing.T) {
	notice := proto.Channel{ID: "c1", Kind: proto.ChannelNotice}

	if !CanSend(&session.Session{UserID: "u1", Role: session.RoleHR}, notice) {
		t.Fatal("hr must be able to post notices")
	}
	if CanSend(&session.Session{UserID: "u1", Role: session.RoleManager}, notice) {
		t.Fatal("manager must not post notices")
	}
}

func TestCanSendRequiresMembership(t *testing.T) {
	ch := proto.Channel{ID: "c1", Kind: proto.ChannelRegular, MemberIDs: []string{"u1", "u2"}}

	if !CanSend(&session.Session{UserID: "u1", Role: session.RoleDeveloper}, ch) {
		t.Fatal("member must be able to send")
	}
	// Elevated roles get no membership bypass for regular channels.
	if CanSend(&session.Session{UserID: "u-admin", Role: session.RoleAdmin}, ch) {
		t.Fatal("non-member admin must not send into a regular channel")
	}
}

func TestCanAdminChannels(t *testing.T) {
	if !CanAdminChannels(&session.Session{UserID: "u1", Role: session.RoleAdmin}) {
		t.Fatal("admin must administer channels")
	}
	if CanAdminChannels(&session.Session{UserID: "u2", Role: session.RoleDeveloper}) {
		t.Fatal("developer must not administer channels")
	}
	if CanAdminChannels(nil) {
		t.Fatal("nil session must not administer channels")
	}
}
