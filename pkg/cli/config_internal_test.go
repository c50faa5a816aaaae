package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
)

func TestNewMemoryStaysWithinContextBudget(t *testing.T) {
	testCases := []struct {
		name         string
		historyLimit int64
		want         int
	}{
		{name: "defaults to context budget", historyLimit: 0, want: 64},
		{name: "tighter history limit", historyLimit: 32, want: 32},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config{contextBudget: 64, historyLimit: tc.historyLimit}
			mem, err := cfg.newMemory(tokenizer.Default(), nil)
			gt.NoError(t, err)

			sid := model.NewSessionID()
			for i := range 20 {
				gt.NoError(t, mem.AppendExchange(sid,
					model.Turn{Role: model.RoleUser, Text: fmt.Sprintf("why does bell %d ring?", i)},
					model.Turn{Role: model.RoleAssistant, Text: "what strikes the inside of the bell?"},
				))
			}

			sc, err := mem.Snapshot(sid)
			gt.NoError(t, err)
			gt.True(t, sc.Tokens <= tc.want)
			gt.True(t, sc.Tokens > 0)
		})
	}
}

func TestNewMemoryRejectsHistoryAboveBudget(t *testing.T) {
	cfg := &config{contextBudget: 64, historyLimit: 65}
	_, err := cfg.newMemory(tokenizer.Default(), nil)
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))
}
