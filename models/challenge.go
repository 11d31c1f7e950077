// models/challenge.go - Challenge Battle Data Models
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Challenge status constants
type ChallengeStatus string

const (
	ChallengeStatusPending    ChallengeStatus = "pending"
	ChallengeStatusInProgress ChallengeStatus = "in_progress"
	ChallengeStatusCompleted  ChallengeStatus = "completed"
	ChallengeStatusCancelled  ChallengeStatus = "cancelled"
	// ChallengeStatusExpired is never written to storage. Expiry is observed
	// lazily: readers report a pending challenge past its deadline as expired
	// without rewriting the row.
	ChallengeStatusExpired ChallengeStatus = "expired"
)

// ChallengeKind discriminates the two invite variants
type ChallengeKind string

const (
	ChallengeKindDirect ChallengeKind = "direct" // targets a present user, short expiry
	ChallengeKindLink   ChallengeKind = "link"   // share-code invite, long expiry
)

// Role identifies which side of a challenge a user plays
type Role string

const (
	RoleHost     Role = "host"
	RoleOpponent Role = "opponent"
)

// Question is one entry of a challenge's immutable question set
type Question struct {
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Challenge represents one 1v1 timed quiz battle
type Challenge struct {
	ID       string        `json:"id" gorm:"primaryKey;size:100"`
	Kind     ChallengeKind `json:"kind" gorm:"not null;size:10;index"`
	HostID   string        `json:"host_id" gorm:"not null;index;size:100"`
	HostName string        `json:"host_name" gorm:"size:100"`

	// OpponentID is pre-filled for direct challenges and nil for link
	// challenges until someone accepts.
	OpponentID   *string `json:"opponent_id" gorm:"index;size:100"`
	OpponentName string  `json:"opponent_name" gorm:"size:100"`

	// ShareCode is set only for link challenges; it is the public lookup key.
	ShareCode *string `json:"share_code,omitempty" gorm:"uniqueIndex;size:20"`

	Subject         string `json:"subject" gorm:"size:100"`
	Difficulty      string `json:"difficulty" gorm:"default:'medium';size:20"`
	DurationSeconds int    `json:"duration_seconds" gorm:"not null"`

	// QuestionsJSON holds the ordered question set, fixed at creation.
	QuestionsJSON string `json:"-" gorm:"type:text"`

	Status ChallengeStatus `json:"status" gorm:"not null;default:'pending';index"`

	// Score/finished pairs are each written exactly once, by their owning
	// participant only.
	HostScore        int  `json:"host_score" gorm:"default:0"`
	OpponentScore    int  `json:"opponent_score" gorm:"default:0"`
	HostFinished     bool `json:"host_finished" gorm:"default:false"`
	OpponentFinished bool `json:"opponent_finished" gorm:"default:false"`

	CreatedAt   time.Time  `json:"created_at" gorm:"not null"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"index;not null"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Challenge) TableName() string {
	return "challenges"
}

// NewDirectChallenge builds a pending direct challenge targeting a specific
// opponent. Exactly one of opponent id / share code is set per kind.
func NewDirectChallenge(id, hostID, hostName, opponentID, opponentName string, expiresAt time.Time) *Challenge {
	opp := opponentID
	return &Challenge{
		ID:           id,
		Kind:         ChallengeKindDirect,
		HostID:       hostID,
		HostName:     hostName,
		OpponentID:   &opp,
		OpponentName: opponentName,
		Status:       ChallengeStatusPending,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    expiresAt,
	}
}

// NewLinkChallenge builds a pending link challenge with no pre-assigned
// opponent, identified publicly by its share code.
func NewLinkChallenge(id, hostID, hostName, shareCode string, expiresAt time.Time) *Challenge {
	code := shareCode
	return &Challenge{
		ID:        id,
		Kind:      ChallengeKindLink,
		HostID:    hostID,
		HostName:  hostName,
		ShareCode: &code,
		Status:    ChallengeStatusPending,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
}

// Validate checks the structural invariants fixed at creation time.
func (c *Challenge) Validate() error {
	switch c.Kind {
	case ChallengeKindDirect:
		if c.OpponentID == nil || *c.OpponentID == "" {
			return fmt.Errorf("direct challenge requires an opponent")
		}
		if c.ShareCode != nil {
			return fmt.Errorf("direct challenge must not carry a share code")
		}
	case ChallengeKindLink:
		if c.ShareCode == nil || *c.ShareCode == "" {
			return fmt.Errorf("link challenge requires a share code")
		}
		if c.OpponentID != nil && c.Status == ChallengeStatusPending {
			return fmt.Errorf("pending link challenge must not have an opponent")
		}
	default:
		return fmt.Errorf("unknown challenge kind %q", c.Kind)
	}
	if c.HostID == "" {
		return fmt.Errorf("challenge requires a host")
	}
	if c.DurationSeconds <= 0 {
		return fmt.Errorf("challenge duration must be positive")
	}
	return nil
}

// GetQuestions decodes the immutable question set.
func (c *Challenge) GetQuestions() ([]Question, error) {
	var questions []Question
	if c.QuestionsJSON == "" {
		return questions, nil
	}
	err := json.Unmarshal([]byte(c.QuestionsJSON), &questions)
	return questions, err
}

// SetQuestions encodes the question set. Called once, at creation.
func (c *Challenge) SetQuestions(questions []Question) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return err
	}
	c.QuestionsJSON = string(data)
	return nil
}

// IsExpired reports whether a still-pending challenge is past its deadline.
func (c *Challenge) IsExpired(now time.Time) bool {
	return c.Status == ChallengeStatusPending && !now.Before(c.ExpiresAt)
}

// EffectiveStatus is the status every reader must act on: pending rows past
// expires_at read as expired even though storage still says pending.
func (c *Challenge) EffectiveStatus(now time.Time) ChallengeStatus {
	if c.IsExpired(now) {
		return ChallengeStatusExpired
	}
	return c.Status
}

// RoleOf returns which side the given user plays, if any.
func (c *Challenge) RoleOf(userID string) (Role, bool) {
	if userID == c.HostID {
		return RoleHost, true
	}
	if c.OpponentID != nil && *c.OpponentID == userID {
		return RoleOpponent, true
	}
	return "", false
}

// BothFinished reports whether both participants have reported their result.
func (c *Challenge) BothFinished() bool {
	return c.HostFinished && c.OpponentFinished
}

// WinnerID computes the authoritative outcome: nil means a draw.
// Deterministic on scores only; ties are not broken by time.
func (c *Challenge) WinnerID() *string {
	if c.HostScore > c.OpponentScore {
		id := c.HostID
		return &id
	}
	if c.OpponentID != nil && c.OpponentScore > c.HostScore {
		id := *c.OpponentID
		return &id
	}
	return nil
}
