package db

import (
	"time"

	"github.com/google/uuid"
)

// User is a repolens account, either local (with a password) or backed by
// a GitHub login.
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Username     string    `bson:"username" json:"username"`
	Name         string    `bson:"name" json:"name"`
	Email        string    `bson:"email" json:"email"`
	AvatarURL    string    `bson:"avatar_url" json:"avatarUrl"`
	PasswordHash []byte    `bson:"password_hash,omitempty" json:"-"`
	GitHubID     int64     `bson:"github_id,omitempty" json:"githubId,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updatedAt"`
}

func (u *User) IsGitHub() bool {
	return u.GitHubID != 0
}

// Analysis is a stored repository report, owned by the user who asked for it.
type Analysis struct {
	ID         string    `bson:"_id" json:"id"`
	Owner      string    `bson:"owner" json:"owner"`
	Repository string    `bson:"repository" json:"repository"`
	Report     Report    `bson:"report" json:"report"`
	CreatedAt  time.Time `bson:"created_at" json:"createdAt"`
}

type Report struct {
	FullName      string          `bson:"full_name" json:"fullName"`
	Description   string          `bson:"description" json:"description"`
	URL           string          `bson:"url" json:"url"`
	DefaultBranch string          `bson:"default_branch" json:"defaultBranch"`
	Language      string          `bson:"language" json:"language"`
	Stars         int             `bson:"stars" json:"stars"`
	Forks         int             `bson:"forks" json:"forks"`
	OpenIssues    int             `bson:"open_issues" json:"openIssues"`
	Watchers      int             `bson:"watchers" json:"watchers"`
	Languages     []LanguageShare `bson:"languages" json:"languages"`
	Contributors  []Contributor   `bson:"contributors" json:"contributors"`
	RecentCommits int             `bson:"recent_commits" json:"recentCommits"`
	PushedAt      time.Time       `bson:"pushed_at" json:"pushedAt"`
}

type LanguageShare struct {
	Name    string  `bson:"name" json:"name"`
	Bytes   int     `bson:"bytes" json:"bytes"`
	Percent float64 `bson:"percent" json:"percent"`
}

type Contributor struct {
	Login         string `bson:"login" json:"login"`
	Contributions int    `bson:"contributions" json:"contributions"`
}

// prepareUser assigns the identity and timestamps of a user about to be inserted.
func prepareUser(user *User) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
}

func prepareAnalysis(analysis *Analysis) {
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now().UTC()
	}
}
