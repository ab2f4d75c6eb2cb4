package allowlist

import "time"

// MemberStage is the lifecycle position of a member, derived from its fields.
type MemberStage string

const (
	// StageSeeded is a record that has not linked both identities yet.
	StageSeeded MemberStage = "seeded"
	// StageLinked has both provider ids stored and no address.
	StageLinked MemberStage = "linked"
	// StageVerified has a bound wallet address. It is terminal.
	StageVerified MemberStage = "verified"
)

// Member is an allowlist entry.
type Member struct {
	ID        string     `json:"id" yaml:"id,omitempty"`
	Discord   string     `json:"discord" yaml:"discord"`
	DiscordID string     `json:"discord_id" yaml:"discord_id,omitempty"`
	Twitter   string     `json:"twitter" yaml:"twitter"`
	TwitterID string     `json:"twitter_id" yaml:"twitter_id,omitempty"`
	Address   string     `json:"address" yaml:"address,omitempty"`
	Project   string     `json:"project" yaml:"project"`
	CreatedAt *time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Stage derives the member stage.
func (m *Member) Stage() MemberStage {
	switch {
	case m == nil:
		return ""
	case m.Address != "":
		return StageVerified
	case m.DiscordID != "" && m.TwitterID != "":
		return StageLinked
	default:
		return StageSeeded
	}
}

// HasProfile reports whether both provider ids are populated.
func (m *Member) HasProfile() bool {
	return m != nil && m.DiscordID != "" && m.TwitterID != ""
}

// Apply copies linked identities onto the member.
func (m *Member) Apply(ids Identities) {
	m.Discord = ids.Discord
	m.DiscordID = ids.DiscordID
	m.Twitter = ids.Twitter
	m.TwitterID = ids.TwitterID
}

// Identities are the provider handles and ids confirmed during linking.
type Identities struct {
	Discord   string
	DiscordID string
	Twitter   string
	TwitterID string
}

// Complete reports whether every field is set.
func (i Identities) Complete() bool {
	return i.Discord != "" && i.DiscordID != "" && i.Twitter != "" && i.TwitterID != ""
}

// LinkResult is returned after both identities are stored.
type LinkResult struct {
	DiscordRefreshToken string
	DiscordUsername     string
	TwitterUsername     string
	TwitterID           string
}

// SubmitResult is returned after an address is bound.
type SubmitResult struct {
	Address     string
	RoleGranted bool
	Message     string
}
