package model_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/socratic/pkg/model"
)

func TestBlueprintValidate(t *testing.T) {
	testCases := []struct {
		name    string
		nodes   []model.LearningNode
		wantErr string
	}{
		{
			name: "valid chain",
			nodes: []model.LearningNode{
				{ID: "a", Title: "Towers"},
				{ID: "b", Title: "Bells", Prerequisites: []string{"a"}},
				{ID: "c", Title: "Campaniles", Prerequisites: []string{"a", "b"}},
			},
		},
		{
			name:    "empty",
			nodes:   nil,
			wantErr: "no nodes",
		},
		{
			name: "duplicated id",
			nodes: []model.LearningNode{
				{ID: "a", Title: "x"},
				{ID: "a", Title: "y"},
			},
			wantErr: "duplicated node id",
		},
		{
			name: "missing title",
			nodes: []model.LearningNode{
				{ID: "a"},
			},
			wantErr: "title is empty",
		},
		{
			name: "prerequisite after node",
			nodes: []model.LearningNode{
				{ID: "a", Title: "x", Prerequisites: []string{"b"}},
				{ID: "b", Title: "y"},
			},
			wantErr: "not placed before",
		},
		{
			name: "unknown prerequisite",
			nodes: []model.LearningNode{
				{ID: "a", Title: "x", Prerequisites: []string{"zzz"}},
			},
			wantErr: "not placed before",
		},
		{
			name: "self reference",
			nodes: []model.LearningNode{
				{ID: "a", Title: "x", Prerequisites: []string{"a"}},
			},
			wantErr: "requires itself",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bp := &model.BlueprintResponse{Topic: "bells", Nodes: tc.nodes}
			err := bp.Validate()
			if tc.wantErr == "" {
				gt.NoError(t, err)
				return
			}
			gt.Error(t, err)
			gt.S(t, err.Error()).Contains(tc.wantErr)
		})
	}
}

func TestGenerationConfigValidate(t *testing.T) {
	gt.NoError(t, model.DefaultGenerationConfig().Validate())

	cfg := model.DefaultGenerationConfig()
	cfg.MaxTokens = 0
	err := cfg.Validate()
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))

	cfg = model.DefaultGenerationConfig()
	cfg.TopP = 1.5
	gt.Error(t, cfg.Validate())
}

func TestStrategyValidate(t *testing.T) {
	gt.NoError(t, model.StrategySocratic.Validate())
	gt.NoError(t, model.StrategyGuided.Validate())
	gt.NoError(t, model.StrategyReview.Validate())
	gt.Error(t, model.Strategy("lecture").Validate())
}
