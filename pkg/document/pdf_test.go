package document

import (
	"errors"
	"testing"

	"studyai/pkg/document/documenttest"
)

func TestInspectPDFCountsPages(t *testing.T) {
	info, err := InspectPDF(documenttest.BuildPDF(3))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Pages != 3 {
		t.Fatalf("pages = %d, want 3", info.Pages)
	}
}

func TestInspectPDFRejectsNonPDF(t *testing.T) {
	if _, err := InspectPDF([]byte("PK\x03\x04 not a pdf")); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}

func TestInspectPDFRejectsTruncated(t *testing.T) {
	data := documenttest.BuildPDF(1)
	if _, err := InspectPDF(data[:len(data)/2]); err == nil {
		t.Fatalf("expected error for truncated pdf")
	}
}

func TestInspectPDFRejectsZeroPages(t *testing.T) {
	if _, err := InspectPDF(documenttest.BuildPDF(0)); !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
}
