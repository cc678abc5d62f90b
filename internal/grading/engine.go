// Package grading auto-scores objective quiz answers server-side. Essay
// answers are never auto-scored; they surface as manual-grading prompts.
package grading

import (
	"strings"
)

// Question types.
const (
	TypeChoice      = "choice"
	TypeTrueFalse   = "true_false"
	TypeShortAnswer = "short_answer"
	TypeEssay       = "essay"
)

// Question is the grading view of one quiz question document.
type Question struct {
	Index         int
	Type          string
	Text          string
	Choices       map[string]string // key -> label
	CorrectAnswer string            // choice key, "true"/"false", or expected text
}

// EssayPrompt is an ungradable answer handed off for manual grading.
type EssayPrompt struct {
	QuestionIndex int
	QuestionText  string
	Answer        string
}

// Outcome is the auto-graded portion of a submission.
type Outcome struct {
	AutoScore float64
	AutoTotal float64
	Essays    []EssayPrompt
}

// Strategy grades one answer against one question, returning awarded points
// out of 1.
type Strategy interface {
	Grade(q Question, answer string) float64
}

type Grader struct {
	strategies map[string]Strategy
}

type Option func(*Grader)

// WithMaxEditDistance tunes short-answer fuzzy matching.
func WithMaxEditDistance(n int) Option {
	return func(g *Grader) {
		g.strategies[TypeShortAnswer] = shortAnswerStrategy{maxEdit: n}
	}
}

func NewGrader(opts ...Option) *Grader {
	g := &Grader{strategies: map[string]Strategy{
		TypeChoice:      choiceStrategy{},
		TypeTrueFalse:   choiceStrategy{},
		TypeShortAnswer: shortAnswerStrategy{maxEdit: 1},
	}}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ScoreQuiz grades every answered question. One point per objective
// question; unanswered questions count toward the total but score zero.
// Essay answers are collected, not scored, and do not affect the total.
func (g *Grader) ScoreQuiz(questions []Question, answers map[int]string) Outcome {
	var out Outcome
	for _, q := range questions {
		answer, answered := answers[q.Index]
		if q.Type == TypeEssay {
			if answered && strings.TrimSpace(answer) != "" {
				out.Essays = append(out.Essays, EssayPrompt{
					QuestionIndex: q.Index,
					QuestionText:  q.Text,
					Answer:        answer,
				})
			}
			continue
		}
		out.AutoTotal++
		if !answered {
			continue
		}
		s, ok := g.strategies[q.Type]
		if !ok {
			s = choiceStrategy{}
		}
		out.AutoScore += s.Grade(q, answer)
	}
	return out
}

type choiceStrategy struct{}

func (choiceStrategy) Grade(q Question, answer string) float64 {
	if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.CorrectAnswer)) {
		return 1
	}
	return 0
}

type shortAnswerStrategy struct{ maxEdit int }

// Grade awards full credit on a normalized exact match and half credit on a
// near miss within the edit-distance bound.
func (s shortAnswerStrategy) Grade(q Question, answer string) float64 {
	want := normalize(q.CorrectAnswer)
	got := normalize(answer)
	if want == got {
		return 1
	}
	if s.maxEdit > 0 && levenshtein(want, got) <= s.maxEdit {
		return 0.5
	}
	return 0
}
