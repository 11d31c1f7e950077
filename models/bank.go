// models/bank.go - Question bank rows sampled at challenge creation
package models

import (
	"encoding/json"
	"time"
)

// BankQuestion is one reusable question in the content bank. Challenge
// creation samples and freezes copies of these; the bank rows themselves are
// never referenced after creation.
type BankQuestion struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Subject       string    `json:"subject" gorm:"not null;size:100;index"`
	Difficulty    string    `json:"difficulty" gorm:"default:'medium';size:20;index"`
	Prompt        string    `json:"prompt" gorm:"not null;type:text"`
	OptionsJSON   string    `json:"options_json" gorm:"not null;type:text"`
	CorrectOption int       `json:"correct_option" gorm:"not null"`
	Explanation   string    `json:"explanation" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
}

func (BankQuestion) TableName() string {
	return "bank_questions"
}

// Options decodes the answer options.
func (q *BankQuestion) Options() ([]string, error) {
	var options []string
	if q.OptionsJSON == "" {
		return options, nil
	}
	err := json.Unmarshal([]byte(q.OptionsJSON), &options)
	return options, err
}

// SetOptions encodes the answer options.
func (q *BankQuestion) SetOptions(options []string) error {
	data, err := json.Marshal(options)
	if err != nil {
		return err
	}
	q.OptionsJSON = string(data)
	return nil
}
