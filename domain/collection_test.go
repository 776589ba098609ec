package domain

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func sampleBoards() []Board {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return []Board{
		{ID: "a", Title: "X", Content: "c1"},
		{ID: "b", Title: "Second", IsCompleted: true, DateRange: DateRange{Start: &start}, Content: "c2"},
		{ID: "c", Title: "Third", Content: "c3"},
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestUpdateBoardChangesOnlyMatchingFields(t *testing.T) {
	in := sampleBoards()
	orig := sampleBoards()

	out := UpdateBoard(in, "b", BoardPatch{Title: strPtr("Renamed"), IsCompleted: boolPtr(false)})

	if len(out) != len(in) {
		t.Fatalf("expected %d boards, got %d", len(in), len(out))
	}
	want := orig[1]
	want.Title = "Renamed"
	want.IsCompleted = false
	if !reflect.DeepEqual(out[1], want) {
		t.Fatalf("unexpected updated board: %#v", out[1])
	}
	if !reflect.DeepEqual(out[0], orig[0]) || !reflect.DeepEqual(out[2], orig[2]) {
		t.Fatalf("untouched boards changed: %#v", out)
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("input slice was modified: %#v", in)
	}
}

func TestUpdateBoardMissingIDIsNoop(t *testing.T) {
	in := sampleBoards()
	out := UpdateBoard(in, "zzz", BoardPatch{Title: strPtr("nope")})
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("expected unchanged boards, got %#v", out)
	}
}

func TestUpdateBoardEndToEndExample(t *testing.T) {
	in := []Board{{ID: "a", Title: "X", IsCompleted: false, Content: "c1"}}
	out := UpdateBoard(in, "a", BoardPatch{Title: strPtr("Y"), IsCompleted: boolPtr(true)})
	want := []Board{{ID: "a", Title: "Y", IsCompleted: true, Content: "c1"}}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("unexpected boards: %#v", out)
	}
}

func TestRemoveBoard(t *testing.T) {
	in := sampleBoards()
	out := RemoveBoard(in, "b")
	want := []Board{in[0], in[2]}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("unexpected boards after remove: %#v", out)
	}
	if len(in) != 3 {
		t.Fatalf("input slice was modified")
	}

	if got := RemoveBoard(in, "missing"); !reflect.DeepEqual(got, in) {
		t.Fatalf("removing an absent id should be a no-op, got %#v", got)
	}
}

func TestInsertBoardAppends(t *testing.T) {
	in := sampleBoards()[:2]
	nb := NewBoard()
	if nb.ID == "" {
		t.Fatalf("expected generated board id")
	}
	out := InsertBoard(in, nb)
	if len(out) != 3 || out[2].ID != nb.ID {
		t.Fatalf("expected new board at the end, got %#v", out)
	}
	if out[0].ID != "a" || out[1].ID != "b" {
		t.Fatalf("existing order not preserved: %#v", out)
	}
}

func TestValidateEdit(t *testing.T) {
	cases := []struct {
		name  string
		patch BoardPatch
		field string
	}{
		{name: "empty title", patch: BoardPatch{Title: strPtr(""), Content: strPtr("body")}, field: "title"},
		{name: "empty content", patch: BoardPatch{Title: strPtr("title"), Content: strPtr("")}, field: "content"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.patch.ValidateEdit()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}

	if err := (BoardPatch{IsCompleted: boolPtr(true)}).ValidateEdit(); err != nil {
		t.Fatalf("patch without title/content should pass: %v", err)
	}
}

func TestDateRangeValidate(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	if err := (DateRange{Start: &late, End: &early}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected inverted range to fail, got %v", err)
	}
	for _, r := range []DateRange{{}, {Start: &early}, {End: &late}, {Start: &early, End: &late}, {Start: &early, End: &early}} {
		if err := r.Validate(); err != nil {
			t.Fatalf("unexpected error for %#v: %v", r, err)
		}
	}
}

func TestValidateEdited(t *testing.T) {
	if err := ValidateEdited(Board{ID: "a", Title: "t"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing content to fail, got %v", err)
	}
	if err := ValidateEdited(Board{ID: "a", Title: "t", Content: "c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
