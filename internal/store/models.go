package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Reputation   int
	Locked       bool
	CreatedAt    time.Time
}

type Text struct {
	ID    string
	URL   string
	Title string
}

// Edition is one published version of a text. LineCount is the number of the
// last line and bounds every window.
type Edition struct {
	ID        string
	TextID    string
	TextURL   string
	Num       int
	Title     string
	IsPrimary bool
	LineCount int
}

// Line is one addressable line of an edition. Enum "hr" marks a divider.
type Line struct {
	EditionID string
	Num       int
	TOC       string
	Enum      string
	Text      string
}

type Tag struct {
	ID          string
	Name        string
	Description string
	Locked      bool
}

type Annotation struct {
	ID          int64
	EditionID   string
	AnnotatorID string
	Annotator   string
	FirstLine   int
	LastLine    int
	FirstChar   int
	LastChar    int
	Body        string
	Weight      int
	Active      bool
	Locked      bool
	Tags        []string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Vote is one user's ballot on an entity. Delta is +1 or -1.
type Vote struct {
	Entity    string
	EntityID  int64
	VoterID   string
	Delta     int
	CreatedAt time.Time
}
