package domain

// The functions below never modify their input; each returns a fresh slice
// that is safe to hand to a full-collection write.

// UpdateBoard replaces the board with the given id by p applied to it.
// All other boards pass through in order. An unknown id is a no-op.
func UpdateBoard(boards []Board, id string, p BoardPatch) []Board {
	out := make([]Board, len(boards))
	for i, b := range boards {
		if b.ID == id {
			out[i] = p.Apply(b)
			continue
		}
		out[i] = b
	}
	return out
}

// RemoveBoard drops the board with the given id. An unknown id is a no-op.
func RemoveBoard(boards []Board, id string) []Board {
	out := make([]Board, 0, len(boards))
	for _, b := range boards {
		if b.ID == id {
			continue
		}
		out = append(out, b)
	}
	return out
}

// InsertBoard appends b to the end of the collection.
func InsertBoard(boards []Board, b Board) []Board {
	out := make([]Board, 0, len(boards)+1)
	out = append(out, boards...)
	return append(out, b)
}

// FindBoard returns the board with the given id.
func FindBoard(boards []Board, id string) (Board, bool) {
	for _, b := range boards {
		if b.ID == id {
			return b, true
		}
	}
	return Board{}, false
}
