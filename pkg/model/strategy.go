package model

import "github.com/m-mizutani/goerr/v2"

// Strategy selects the pedagogy used when assembling a dialogue prompt. The set
// is closed; unknown values are rejected.
type Strategy string

const (
	// StrategySocratic answers with guiding questions and withholds the answer.
	StrategySocratic Strategy = "socratic"
	// StrategyGuided explains briefly and then checks understanding.
	StrategyGuided Strategy = "guided"
	// StrategyReview quizzes the learner on material already discussed.
	StrategyReview Strategy = "review"
)

// Validate checks if the strategy is known
func (s Strategy) Validate() error {
	switch s {
	case StrategySocratic, StrategyGuided, StrategyReview:
		return nil
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown strategy", goerr.V("strategy", s))
	}
}

// Persona returns the role instruction placed at the top of a dialogue prompt.
func (s Strategy) Persona() string {
	switch s {
	case StrategyGuided:
		return "You are a patient tutor. Explain the idea in two or three sentences using the reference passages, then ask one short question that checks understanding."
	case StrategyReview:
		return "You are a tutor running a review. Ask the learner one question about material from the conversation so far and wait for the answer. Do not reveal the answer."
	default:
		return "You are a Socratic tutor. Never state the answer outright. Ask one guiding question at a time that leads the learner toward the idea, grounded in the reference passages."
	}
}
