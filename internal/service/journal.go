package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-phonemizer/internal/eventstore"
	"github.com/loqalabs/loqa-phonemizer/internal/phonemize"
)

type switchSummary struct {
	Policy   string `json:"policy"`
	Language string `json:"language"`
	Lines    []int  `json:"lines"`
}

type failure struct {
	Error string `json:"error"`
}

// RecordRun journals a finished run: the run row, one utterance event per
// input line and the language switch summary when switches were found.
// A nil store records nothing.
func RecordRun(ctx context.Context, store *eventstore.Store, runID, requestID string, opts phonemize.Options, result phonemize.Result, switched []int, runErr error) error {
	if store == nil {
		return nil
	}
	kept := 0
	for _, u := range result.Utterances {
		if u.Kept {
			kept++
		}
	}
	run := eventstore.Run{
		ID:        runID,
		RequestID: requestID,
		Language:  opts.Language,
		Policy:    string(opts.LanguageSwitch),
		Lines:     len(result.Utterances),
		Kept:      kept,
	}
	if err := store.AppendRun(ctx, run); err != nil {
		return fmt.Errorf("append run: %w", err)
	}

	events := make([]eventstore.Event, 0, len(result.Utterances)+1)
	for _, u := range result.Utterances {
		payload, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode utterance %d: %w", u.Number, err)
		}
		events = append(events, eventstore.Event{RunID: runID, Line: u.Number, Type: eventstore.EventUtterance, Payload: payload})
	}
	if len(switched) > 0 {
		payload, err := json.Marshal(switchSummary{Policy: run.Policy, Language: run.Language, Lines: switched})
		if err != nil {
			return fmt.Errorf("encode switch summary: %w", err)
		}
		events = append(events, eventstore.Event{RunID: runID, Type: eventstore.EventSwitchSummary, Payload: payload})
	}
	if runErr != nil {
		payload, err := json.Marshal(failure{Error: runErr.Error()})
		if err != nil {
			return fmt.Errorf("encode failure: %w", err)
		}
		events = append(events, eventstore.Event{RunID: runID, Type: eventstore.EventRunFailed, Payload: payload})
	}
	if err := store.AppendEvents(ctx, events...); err != nil {
		return fmt.Errorf("append run events: %w", err)
	}
	return nil
}
