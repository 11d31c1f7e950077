// services/questions.go - Question content collaborator
package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	mathrand "math/rand"

	"gorm.io/gorm"

	"quizdash/apperrors"
	"quizdash/logger"
	"quizdash/models"
)

// QuestionSource produces the ordered, immutable question set for a new
// challenge. Called exactly once per challenge; its latency sits on the
// creation path, never on the battle path.
type QuestionSource interface {
	Generate(ctx context.Context, subject, difficulty string, count int, seed string) ([]models.Question, error)
}

// BankQuestionSource samples the local question bank. The same seed always
// yields the same questions in the same order with identically shuffled
// options, so the set frozen into the challenge record is reproducible.
type BankQuestionSource struct {
	db *gorm.DB
}

func NewBankQuestionSource(db *gorm.DB) *BankQuestionSource {
	return &BankQuestionSource{db: db}
}

func (s *BankQuestionSource) Generate(ctx context.Context, subject, difficulty string, count int, seed string) ([]models.Question, error) {
	if count <= 0 {
		count = 5
	}

	query := s.db.WithContext(ctx).Model(&models.BankQuestion{}).Where("subject = ?", subject)
	if difficulty != "" {
		query = query.Where("difficulty = ?", difficulty)
	}

	var bank []models.BankQuestion
	if err := query.Order("id").Find(&bank).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to load question bank")
	}
	if len(bank) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation,
			fmt.Sprintf("no questions available for subject %q", subject))
	}

	// Deterministic shuffle seeded from the challenge id.
	sum := sha256.Sum256([]byte(seed))
	rng := mathrand.New(mathrand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
	rng.Shuffle(len(bank), func(i, j int) {
		bank[i], bank[j] = bank[j], bank[i]
	})

	if len(bank) > count {
		bank = bank[:count]
	}

	questions := make([]models.Question, 0, len(bank))
	for _, row := range bank {
		options, err := row.Options()
		if err != nil || len(options) < 2 || row.CorrectOption < 0 || row.CorrectOption >= len(options) {
			logger.Warn("skipping malformed bank question", "question_id", row.ID, "error", err)
			continue
		}

		correct := options[row.CorrectOption]
		rng.Shuffle(len(options), func(i, j int) {
			options[i], options[j] = options[j], options[i]
		})
		correctIdx := 0
		for i, opt := range options {
			if opt == correct {
				correctIdx = i
				break
			}
		}

		questions = append(questions, models.Question{
			Prompt:        row.Prompt,
			Options:       options,
			CorrectOption: correctIdx,
			Explanation:   row.Explanation,
		})
	}

	if len(questions) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation,
			fmt.Sprintf("no usable questions for subject %q", subject))
	}

	logger.Debug("generated question set", "subject", subject, "count", len(questions), "seed", seed)
	return questions, nil
}
