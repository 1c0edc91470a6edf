// Package companion implements Mentara's everyday features around one
// persisted document: the mood journal, the chat companion with crisis
// detection, the daily mental plan with its streak, insights, affirmations
// and the box-breathing exercise.
//
// Every mutation is applied to a copy of the document and saved whole; the
// in-memory document only changes once the save succeeded. Concurrent writers
// (the CLI and the daemon) follow last-write-wins.
package companion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// StateKey is the storage key of the application document.
const StateKey = "mentara_state_v2"

// DefaultUserName is the name used until the user picks one.
const DefaultUserName = "Sobat Mentara"

// WelcomeMessage opens every fresh conversation.
const WelcomeMessage = "Halo! Aku Mentara. Apa kabarmu hari ini?"

// dateLayout is the layout of AppState.LastActive.
const dateLayout = time.DateOnly

// MoodLevel is a self-reported mood from 1 (very sad) to 5 (very happy).
type MoodLevel int

const (
	MoodVerySad   MoodLevel = 1
	MoodSad       MoodLevel = 2
	MoodNeutral   MoodLevel = 3
	MoodHappy     MoodLevel = 4
	MoodVeryHappy MoodLevel = 5
)

// IsValid reports whether l is within 1..5.
func (l MoodLevel) IsValid() bool { return l >= MoodVerySad && l <= MoodVeryHappy }

// Label returns the Indonesian label shown next to the level.
func (l MoodLevel) Label() string {
	switch l {
	case MoodVerySad:
		return "Sangat Sedih"
	case MoodSad:
		return "Kurang Baik"
	case MoodNeutral:
		return "Biasa Saja"
	case MoodHappy:
		return "Senang"
	case MoodVeryHappy:
		return "Luar Biasa"
	default:
		return "?"
	}
}

// MoodEntry is one journal check-in.
type MoodEntry struct {
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds
	Level     MoodLevel `json:"level"`
	Note      string    `json:"note"`
	Tags      []string  `json:"tags"`
}

// Time returns the entry's timestamp.
func (e MoodEntry) Time() time.Time { return time.UnixMilli(e.Timestamp) }

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// TaskType groups the daily tasks.
type TaskType string

const (
	TaskBreathing  TaskType = "breathing"
	TaskJournal    TaskType = "journal"
	TaskReflection TaskType = "reflection"
	TaskSocial     TaskType = "social"
)

// MentalTask is one item of the daily mental plan.
type MentalTask struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Completed bool     `json:"completed"`
	Type      TaskType `json:"type"`
}

// Language is the UI language.
type Language string

const (
	LanguageID Language = "id"
	LanguageEN Language = "en"
)

// IsValid reports whether l is supported.
func (l Language) IsValid() bool { return l == LanguageID || l == LanguageEN }

// Theme is the visual theme preference.
type Theme string

const (
	ThemeSlate    Theme = "slate"
	ThemeMidnight Theme = "midnight"
)

// IsValid reports whether t is supported.
func (t Theme) IsValid() bool { return t == ThemeSlate || t == ThemeMidnight }

// AppState is the persisted application document. Field names on the wire
// match documents written by earlier Mentara versions.
type AppState struct {
	Moods      []MoodEntry  `json:"userMoods"`
	Messages   []Message    `json:"messages"`
	Tasks      []MentalTask `json:"dailyTasks"`
	UserName   string       `json:"userName"`
	Language   Language     `json:"language"`
	Theme      Theme        `json:"theme"`
	Streak     int          `json:"streak"`
	LastActive string       `json:"lastActive,omitempty"`
}

// DefaultTasks returns the daily plan of a fresh document.
func DefaultTasks() []MentalTask {
	return []MentalTask{
		{ID: "1", Title: "Mood Check-in", Type: TaskJournal},
		{ID: "2", Title: "3 Menit Box Breathing", Type: TaskBreathing},
		{ID: "3", Title: "Refleksi Syukur", Type: TaskReflection},
	}
}

// DefaultState returns a fresh document as of now.
func DefaultState(now time.Time) AppState {
	return AppState{
		Moods: []MoodEntry{},
		Messages: []Message{{
			ID:        newID(now),
			Role:      RoleAssistant,
			Content:   WelcomeMessage,
			Timestamp: now.UnixMilli(),
		}},
		Tasks:      DefaultTasks(),
		UserName:   DefaultUserName,
		Language:   LanguageID,
		Theme:      ThemeSlate,
		Streak:     1,
		LastActive: now.Format(dateLayout),
	}
}

// DecodeState parses a stored document and fills the fields older documents
// may lack.
func DecodeState(b []byte) (AppState, error) {
	var st AppState
	if err := json.Unmarshal(b, &st); err != nil {
		return AppState{}, fmt.Errorf("companion: decode state: %w", err)
	}
	if !st.Language.IsValid() {
		st.Language = LanguageID
	}
	if !st.Theme.IsValid() {
		st.Theme = ThemeSlate
	}
	if st.Streak < 1 {
		st.Streak = 1
	}
	if st.UserName == "" {
		st.UserName = DefaultUserName
	}
	if st.Moods == nil {
		st.Moods = []MoodEntry{}
	}
	if st.Messages == nil {
		st.Messages = []Message{}
	}
	if st.Tasks == nil {
		st.Tasks = DefaultTasks()
	}
	return st, nil
}

// Encode serialises the document.
func (s AppState) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("companion: encode state: %w", err)
	}
	return b, nil
}

// Clone returns a deep copy.
func (s AppState) Clone() AppState {
	out := s
	out.Moods = make([]MoodEntry, len(s.Moods))
	for i, m := range s.Moods {
		m.Tags = append([]string(nil), m.Tags...)
		out.Moods[i] = m
	}
	out.Messages = append([]Message(nil), s.Messages...)
	out.Tasks = append([]MentalTask(nil), s.Tasks...)
	return out
}

// CompletedTasks returns how many daily tasks are done.
func (s AppState) CompletedTasks() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Completed {
			n++
		}
	}
	return n
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
