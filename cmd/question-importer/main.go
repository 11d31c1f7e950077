// Imports quiz questions from a JSON file into the question bank.
//
// Usage:
//
//	go run ./cmd/question-importer -file ./data/questions.json
//
// The input is an array of objects:
//
//	[{"subject": "geography", "difficulty": "easy",
//	  "prompt": "...", "options": ["a", "b", "c", "d"],
//	  "correct_option": 2, "explanation": "..."}]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"quizdash/database"
	"quizdash/models"
)

type jsonQuestion struct {
	Subject       string   `json:"subject"`
	Difficulty    string   `json:"difficulty"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	Explanation   string   `json:"explanation"`
}

func main() {
	file := flag.String("file", "./data/questions.json", "path to the questions JSON file")
	flag.Parse()

	_ = godotenv.Load()
	database.InitDB()
	defer database.CloseDB()
	db := database.GetDB()

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal("Failed to read JSON file:", err)
	}

	var input []jsonQuestion
	if err := json.Unmarshal(data, &input); err != nil {
		log.Fatal("Failed to parse JSON:", err)
	}

	fmt.Printf("Found %d questions\n\n", len(input))

	var rows []models.BankQuestion
	skipped := 0
	for i, q := range input {
		if q.Subject == "" || q.Prompt == "" || len(q.Options) < 2 ||
			q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
			log.Printf("Skipping malformed question at index %d", i)
			skipped++
			continue
		}
		if q.Difficulty == "" {
			q.Difficulty = "medium"
		}

		row := models.BankQuestion{
			Subject:       q.Subject,
			Difficulty:    q.Difficulty,
			Prompt:        q.Prompt,
			CorrectOption: q.CorrectOption,
			Explanation:   q.Explanation,
		}
		if err := row.SetOptions(q.Options); err != nil {
			log.Printf("Skipping question at index %d: %v", i, err)
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	batchSize := 500
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		batch := rows[i:end]
		if err := db.Create(&batch).Error; err != nil {
			log.Printf("Error inserting batch %d-%d: %v\n", i, end, err)
		} else {
			fmt.Printf("Inserted questions %d-%d\n", i+1, end)
		}
	}

	fmt.Printf("\nImport finished: %d inserted, %d skipped\n", len(rows), skipped)

	var count int64
	db.Model(&models.BankQuestion{}).Count(&count)
	fmt.Printf("Total questions in bank: %d\n", count)
}
