package workflow

import "testing"

func TestDecodeFlashcards(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		shape   Shape
		problem Problem
		cards   int
		skipped int
	}{
		{
			name:  "object",
			body:  `{"output":{"flashcards":[{"id":"1","question":"Q1","answer":"A1"}]}}`,
			shape: ShapeObject,
			cards: 1,
		},
		{
			name:  "wrapped array",
			body:  `[{"output":{"flashcards":[{"id":1,"question":"Q1","answer":"A1"},{"id":2,"question":"Q2","answer":"A2"}]}}]`,
			shape: ShapeWrappedArray,
			cards: 2,
		},
		{
			name:    "empty list",
			body:    `{"output":{"flashcards":[]}}`,
			shape:   ShapeObject,
			problem: ProblemEmpty,
		},
		{
			name:    "missing output",
			body:    `{"result":"ok"}`,
			shape:   ShapeObject,
			problem: ProblemMissingOutput,
		},
		{
			name:    "empty array reply",
			body:    `[]`,
			shape:   ShapeWrappedArray,
			problem: ProblemMissingOutput,
		},
		{
			name:    "flashcards not array",
			body:    `{"output":{"flashcards":"none"}}`,
			shape:   ShapeObject,
			problem: ProblemNotArray,
		},
		{
			name:    "scalar",
			body:    `"done"`,
			shape:   ShapeUnexpected,
			problem: ProblemUnexpectedType,
		},
		{
			name:    "incomplete entries skipped",
			body:    `{"output":{"flashcards":[{"id":"1","question":"Q1"},{"id":"2","question":"Q2","answer":"A2"},"junk"]}}`,
			shape:   ShapeObject,
			cards:   1,
			skipped: 2,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := DecodeFlashcards([]byte(tc.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if reply.Shape != tc.shape || reply.Problem != tc.problem {
				t.Fatalf("shape/problem = %s/%s, want %s/%s", reply.Shape, reply.Problem, tc.shape, tc.problem)
			}
			if len(reply.Cards) != tc.cards || reply.Skipped != tc.skipped {
				t.Fatalf("cards/skipped = %d/%d, want %d/%d", len(reply.Cards), reply.Skipped, tc.cards, tc.skipped)
			}
		})
	}
}

func TestDecodeFlashcardsKeepsNumericIDs(t *testing.T) {
	reply, err := DecodeFlashcards([]byte(`{"output":{"flashcards":[{"id":12345678901234567890,"question":"Q","answer":"A"}]}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Cards[0].ID != "12345678901234567890" {
		t.Fatalf("numeric id lost precision: %s", reply.Cards[0].ID)
	}
}

func TestDecodeFlashcardsIgnoresBooleanIDs(t *testing.T) {
	reply, err := DecodeFlashcards([]byte(`{"output":{"flashcards":[{"id":true,"question":"Q","answer":"A"}]}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reply.Cards) != 1 || reply.Cards[0].ID != "" {
		t.Fatalf("expected card without id, got %+v", reply.Cards)
	}
}

func TestDecodeFlashcardsRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeFlashcards([]byte(`{"output":`)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
}
