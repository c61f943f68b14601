package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"sigchat/internal/app/store"
	"sigchat/internal/app/user"
	"sigchat/internal/protocol"
)

// renderer prints the difference between successive states as chat lines.
type renderer struct {
	out io.Writer

	connection store.ConnectionState
	joined     bool

	// printed maps protocol message ids to the timestamp last shown.
	printed map[string]int64
	roster  map[string]string
	typing  []string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:     out,
		printed: make(map[string]int64),
		roster:  make(map[string]string),
	}
}

func (r *renderer) render(s store.State) {
	if s.Connection != r.connection {
		r.connection = s.Connection
		fmt.Fprintf(r.out, "* connection %s\n", s.Connection)
	}

	if s.CurrentUser != nil && !r.joined {
		r.joined = true
		fmt.Fprintf(r.out, "* joined as %s (%s)\n", s.CurrentUser.Username, s.CurrentUser.ID)
	}
	if s.CurrentUser == nil && r.joined {
		r.joined = false
		clear(r.printed)
		clear(r.roster)
		r.typing = nil
	}

	r.renderRoster(s)

	for _, m := range s.Messages {
		ts, seen := r.printed[m.ProtocolMessageID]
		if seen && ts == m.Timestamp {
			continue
		}
		r.printed[m.ProtocolMessageID] = m.Timestamp
		fmt.Fprintln(r.out, r.formatMessage(s, m, seen))
	}

	if names := s.Typing.Names(); !slices.Equal(names, r.typing) {
		r.typing = names
		if len(names) > 0 {
			fmt.Fprintf(r.out, "* %s typing...\n", strings.Join(names, ", "))
		}
	}
}

func (r *renderer) renderRoster(s store.State) {
	current := make(map[string]string, len(s.Roster))
	for _, u := range s.Roster {
		current[u.ID] = u.Username
	}

	for id, name := range current {
		if _, ok := r.roster[id]; !ok && !isSelf(s, id) {
			fmt.Fprintf(r.out, "* %s is online\n", name)
		}
	}
	for id, name := range r.roster {
		if _, ok := current[id]; !ok {
			fmt.Fprintf(r.out, "* %s left\n", name)
		}
	}

	r.roster = current
}

func (r *renderer) formatMessage(s store.State, m store.Message, updated bool) string {
	var b strings.Builder

	b.WriteString(time.UnixMilli(m.Timestamp).Format("15:04"))
	b.WriteString(" ")
	b.WriteString(m.SenderName)
	if m.TargetUserID != "" {
		b.WriteString(" -> ")
		b.WriteString(r.nameOf(s, m.TargetUserID))
	}
	b.WriteString(": ")

	if m.Kind == protocol.KindFile && m.Attachment != nil {
		fmt.Fprintf(&b, "[file %s, %s, %d bytes]", m.Attachment.Name, m.Attachment.MimeType, m.Attachment.ByteSize)
	} else {
		b.WriteString(m.Content)
	}

	if updated {
		b.WriteString(" (updated)")
	}
	return b.String()
}

func (r *renderer) printRoster(s store.State) {
	users := slices.Clone(s.Roster)
	slices.SortFunc(users, func(a, b user.User) int {
		return strings.Compare(a.Username, b.Username)
	})

	fmt.Fprintf(r.out, "* %d online\n", len(users))
	for _, u := range users {
		marker := ""
		if isSelf(s, u.ID) {
			marker = " (you)"
		}
		fmt.Fprintf(r.out, "  %s  %s%s\n", u.ID, u.Username, marker)
	}
}

// nameOf returns the display name for id, or id itself when it is not in the roster.
func (r *renderer) nameOf(s store.State, id string) string {
	if isSelf(s, id) {
		return "you"
	}
	for _, u := range s.Roster {
		if u.ID == id {
			return u.Username
		}
	}
	return id
}

func isSelf(s store.State, id string) bool {
	return s.CurrentUser != nil && s.CurrentUser.ID == id
}
