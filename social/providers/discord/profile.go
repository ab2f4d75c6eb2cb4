package discord

import "github.com/goliatone/go-allowlist/social"

type discordUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
}

// Handle returns the "username#discriminator" form stored on member records.
func (u discordUser) Handle() string {
	if u.Discriminator == "" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

func (u discordUser) avatarURL() string {
	if u.Avatar == "" {
		return ""
	}
	return "https://cdn.discordapp.com/avatars/" + u.ID + "/" + u.Avatar + ".png"
}

func mapProfile(user *discordUser) *social.SocialProfile {
	if user == nil {
		return nil
	}

	return &social.SocialProfile{
		ProviderUserID: user.ID,
		Provider:       ProviderName,
		Name:           user.GlobalName,
		Username:       user.Handle(),
		AvatarURL:      user.avatarURL(),
		Raw: map[string]any{
			"id":            user.ID,
			"username":      user.Username,
			"discriminator": user.Discriminator,
			"global_name":   user.GlobalName,
			"avatar":        user.Avatar,
		},
	}
}
