package reqid

import (
	"context"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Fatal("empty context reported an id")
	}
	id := New()
	got, ok := From(With(context.Background(), id))
	if !ok || got != id {
		t.Fatalf("From = %q %v, want %q", got, ok, id)
	}
	if _, ok := From(With(context.Background(), "")); ok {
		t.Fatal("empty id should not be reported")
	}
}
