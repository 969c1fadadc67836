package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Message represents one chat message posted by the commit bot.
// TS is Slack's epoch-seconds string and the natural key; TSForDB is the
// same instant in UTC and is what range queries and attendance use.
// Messages are immutable once stored.
type Message struct {
	TS      string    `db:"ts"`
	TSForDB time.Time `db:"ts_for_db"`

	BotID sql.NullString `db:"bot_id"`
	Type  sql.NullString `db:"type"`
	Text  sql.NullString `db:"text"`
	User  sql.NullString `db:"user"`
	Team  sql.NullString `db:"team"`

	BotProfile  JSONObject  `db:"bot_profile"`
	Attachments Attachments `db:"attachments"`
}

// Attachment is a single commit attachment. The bot sets AuthorName to the
// committer's GitHub login and Text to the commit description.
type Attachment struct {
	AuthorName string `json:"author_name,omitempty"`
	Text       string `json:"text,omitempty"`
	Title      string `json:"title,omitempty"`
	TitleLink  string `json:"title_link,omitempty"`
	Fallback   string `json:"fallback,omitempty"`
	Color      string `json:"color,omitempty"`
	Footer     string `json:"footer,omitempty"`
}

// Attachments is stored as a JSON array column.
type Attachments []Attachment

// TextsBy returns the texts of all attachments authored by author, in order.
func (a Attachments) TextsBy(author string) []string {
	var texts []string
	for _, att := range a {
		if att.AuthorName == author {
			texts = append(texts, att.Text)
		}
	}
	return texts
}

// Value implements driver.Valuer.
func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attachments) Scan(src any) error {
	b, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("attachments: %w", err)
	}
	if b == nil {
		*a = nil
		return nil
	}
	return json.Unmarshal(b, a)
}

// JSONObject is a nullable raw JSON value, used for bot_profile.
type JSONObject []byte

// Value implements driver.Valuer.
func (j JSONObject) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("invalid JSON object")
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONObject) Scan(src any) error {
	b, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("bot_profile: %w", err)
	}
	if b == nil {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], b...)
	return nil
}

// MarshalJSON emits the raw object, or null.
func (j JSONObject) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", src)
	}
}
