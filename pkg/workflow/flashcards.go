package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Shape names the top-level form of a flashcard workflow reply.
type Shape string

const (
	ShapeObject       Shape = "object"
	ShapeWrappedArray Shape = "wrapped_array"
	ShapeUnexpected   Shape = "unexpected"
)

// Problem explains why a reply yielded no flashcards.
type Problem string

const (
	ProblemNone           Problem = ""
	ProblemMissingOutput  Problem = "missing_output"
	ProblemNotArray       Problem = "flashcards_not_array"
	ProblemEmpty          Problem = "flashcards_empty"
	ProblemUnexpectedType Problem = "unexpected_type"
)

// Card is one flashcard as produced by the workflow.
type Card struct {
	ID       string
	Question string
	Answer   string
}

// FlashcardReply is the decoded reply. Skipped counts entries dropped for
// lacking a question or an answer.
type FlashcardReply struct {
	Shape   Shape
	Problem Problem
	Cards   []Card
	Skipped int
}

// DecodeFlashcards accepts {"output":{"flashcards":[...]}} or the same
// object wrapped in a one-element array. Anything else decodes to a reply
// with a Problem and no cards; only malformed JSON is an error.
func DecodeFlashcards(data []byte) (FlashcardReply, error) {
	var top any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&top); err != nil {
		return FlashcardReply{}, fmt.Errorf("decode flashcard reply: %w", err)
	}

	var envelope any
	reply := FlashcardReply{}
	switch v := top.(type) {
	case map[string]any:
		reply.Shape = ShapeObject
		envelope = v
	case []any:
		reply.Shape = ShapeWrappedArray
		if len(v) > 0 {
			envelope = v[0]
		}
	default:
		reply.Shape = ShapeUnexpected
		reply.Problem = ProblemUnexpectedType
		return reply, nil
	}

	obj, _ := envelope.(map[string]any)
	output, ok := obj["output"].(map[string]any)
	if !ok {
		reply.Problem = ProblemMissingOutput
		return reply, nil
	}
	rawList, ok := output["flashcards"].([]any)
	if !ok {
		reply.Problem = ProblemNotArray
		return reply, nil
	}
	if len(rawList) == 0 {
		reply.Problem = ProblemEmpty
		return reply, nil
	}

	for _, item := range rawList {
		card, ok := toCard(item)
		if !ok {
			reply.Skipped++
			continue
		}
		reply.Cards = append(reply.Cards, card)
	}
	return reply, nil
}

func toCard(item any) (Card, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return Card{}, false
	}
	question, _ := m["question"].(string)
	answer, _ := m["answer"].(string)
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return Card{}, false
	}
	return Card{ID: cardID(m["id"]), Question: question, Answer: answer}, true
}

func cardID(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
