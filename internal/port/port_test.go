package port

import (
	"errors"
	"testing"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

func TestAllocateLowestFree(t *testing.T) {
	a := New(9000, 9002)

	p1, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p1 != 9000 {
		t.Fatalf("expected 9000, got %d", p1)
	}

	p2, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p2 != 9001 {
		t.Fatalf("expected 9001, got %d", p2)
	}

	a.Release(p1)

	p3, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p3 != 9000 {
		t.Fatalf("expected reclaimed 9000, got %d", p3)
	}
}

func TestAllocateExhausted(t *testing.T) {
	a := New(9000, 9000)

	if _, err := a.Allocate(); err != nil {
		t.Fatalf("first allocate: %v", err)
	}

	_, err := a.Allocate()
	if err == nil {
		t.Fatal("expected ExhaustedError, got nil")
	}
	var exhausted *domain.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *domain.ExhaustedError, got %T", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	a := New(9000, 9001)
	a.Release(9000)
	a.Release(9000)

	p, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p != 9000 {
		t.Fatalf("expected 9000, got %d", p)
	}
}

func TestUsedCountAndCapacity(t *testing.T) {
	a := New(9000, 9004)
	if a.Capacity() != 5 {
		t.Fatalf("expected capacity 5, got %d", a.Capacity())
	}
	if a.UsedCount() != 0 {
		t.Fatalf("expected used 0, got %d", a.UsedCount())
	}

	p, _ := a.Allocate()
	if a.UsedCount() != 1 {
		t.Fatalf("expected used 1, got %d", a.UsedCount())
	}

	a.Release(p)
	if a.UsedCount() != 0 {
		t.Fatalf("expected used 0 after release, got %d", a.UsedCount())
	}
}
