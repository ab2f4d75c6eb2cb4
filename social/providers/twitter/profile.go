package twitter

import (
	"strings"

	"github.com/goliatone/go-allowlist/social"
)

type twitterUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
}

type apiError struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

type userResponse struct {
	Data   *twitterUser `json:"data"`
	Errors []apiError   `json:"errors"`
	Title  string       `json:"title"`
	Detail string       `json:"detail"`
}

func (r userResponse) errorMessage() string {
	if r.Detail != "" {
		return r.Detail
	}
	if r.Title != "" {
		return r.Title
	}
	for _, e := range r.Errors {
		switch {
		case e.Detail != "":
			return e.Detail
		case e.Message != "":
			return e.Message
		case e.Title != "":
			return e.Title
		}
	}
	return ""
}

// LargeAvatarURL upgrades the default "_normal" profile picture URL to the
// 400x400 variant.
func LargeAvatarURL(profileImageURL string) string {
	return strings.Replace(profileImageURL, "_normal", "_400x400", 1)
}

func mapProfile(user *twitterUser) *social.SocialProfile {
	if user == nil {
		return nil
	}

	return &social.SocialProfile{
		ProviderUserID: user.ID,
		Provider:       ProviderName,
		Name:           user.Name,
		Username:       user.Username,
		AvatarURL:      LargeAvatarURL(user.ProfileImageURL),
		Raw: map[string]any{
			"id":                user.ID,
			"name":              user.Name,
			"username":          user.Username,
			"profile_image_url": user.ProfileImageURL,
		},
	}
}
