package preferences

import "context"

// Preferences are the dashboard settings kept per subject.
type Preferences struct {
	NewsCategories []string `json:"newsCategories"`
	Location       string   `json:"location"`
	Theme          string   `json:"theme"`
}

const (
	DefaultLocation = "New York"
	DefaultTheme    = "light"
	DefaultCategory = "general"
)

// Defaults are served to subjects that have no stored preferences.
func Defaults() Preferences {
	return Preferences{
		NewsCategories: []string{DefaultCategory},
		Location:       DefaultLocation,
		Theme:          DefaultTheme,
	}
}

// Seed is stored on first login.
func Seed() Preferences {
	return Preferences{
		NewsCategories: []string{DefaultCategory, "technology", "business"},
		Location:       DefaultLocation,
		Theme:          DefaultTheme,
	}
}

// WithFallbacks replaces every unset field with its default. An explicit
// empty category list is kept.
func (p Preferences) WithFallbacks() Preferences {
	if p.NewsCategories == nil {
		p.NewsCategories = []string{DefaultCategory}
	}
	if p.Location == "" {
		p.Location = DefaultLocation
	}
	if p.Theme == "" {
		p.Theme = DefaultTheme
	}
	return p
}

// PrimaryCategory is the category used when a news request names none.
func (p Preferences) PrimaryCategory() string {
	if len(p.NewsCategories) == 0 || p.NewsCategories[0] == "" {
		return DefaultCategory
	}
	return p.NewsCategories[0]
}

// Store persists preferences by key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the stored preferences and whether any were found.
	Get(ctx context.Context, key string) (Preferences, bool, error)
	Put(ctx context.Context, key string, prefs Preferences) error
}

// Seeder is implemented by stores that can write a value only when the key is
// still empty, in one atomic step.
type Seeder interface {
	PutIfAbsent(ctx context.Context, key string, prefs Preferences) (bool, error)
}
