package allowlist

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-allowlist/social"
)

// Logger is the structured logger used across the package. glog loggers
// satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DiscordClient is the Discord side of the workflow.
type DiscordClient interface {
	social.OAuth2Provider

	// GrantRole adds the configured guild role to the user.
	GrantRole(ctx context.Context, userID string) error
}

// TwitterClient is the Twitter side of the workflow.
type TwitterClient interface {
	social.OAuth1Provider

	LookupUserByID(ctx context.Context, id string) (*social.SocialProfile, error)
	LookupUserByUsername(ctx context.Context, username string) (*social.SocialProfile, error)
}

// MemberStore reads and updates member records. Lookups return an error
// carrying TextCodeMemberNotFound when nothing matches; empty lookup values
// never match.
type MemberStore interface {
	FindByHandles(ctx context.Context, discord, twitter string) (*Member, error)
	FindByTwitterID(ctx context.Context, twitterID string) (*Member, error)
	FindByTwitter(ctx context.Context, username string) (*Member, error)
	FindByAddress(ctx context.Context, address string) (*Member, error)

	// LinkIdentities stores both identities while the record has no address.
	LinkIdentities(ctx context.Context, id string, ids Identities) error
	// BindAddress sets the address only when it is still empty.
	BindAddress(ctx context.Context, id, address string) error

	// Upsert inserts or refreshes a seeded member, keyed by its handles.
	Upsert(ctx context.Context, member *Member) (*Member, error)
}

// PassGenerator renders the boarding pass of an allowlisted Twitter user.
type PassGenerator interface {
	Generate(ctx context.Context, username string) ([]byte, error)
}

// NewStdoutLogger returns the fallback logger used when none is configured.
// It prints one line per call, with key value pairs rendered as k=v.
func NewStdoutLogger(name string) Logger {
	return defLogger{name: name}
}

type defLogger struct {
	name string
}

func (d defLogger) Debug(msg string, args ...any) {
	d.print("DBG", msg, args...)
}

func (d defLogger) Info(msg string, args ...any) {
	d.print("INF", msg, args...)
}

func (d defLogger) Warn(msg string, args ...any) {
	d.print("WRN", msg, args...)
}

func (d defLogger) Error(msg string, args ...any) {
	d.print("ERR", msg, args...)
}

func (d defLogger) print(level, msg string, args ...any) {
	name := d.name
	if name == "" {
		name = "ALLOWLIST"
	}
	fmt.Printf("[%s] %s %s\n", level, name, format(msg, args...))
}

func format(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return b.String()
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
