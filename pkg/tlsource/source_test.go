package tlsource

import "testing"

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := New(Origin{}, ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSliceRoundTrip(t *testing.T) {
	src, err := New(Origin{File: "in.yaml"}, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	sp, err := NewSpan(6, 11)
	if err != nil {
		t.Fatal(err)
	}
	if got := src.Slice(sp); got != "world" {
		t.Errorf("got %q", got)
	}
}

func TestPosToLineCol(t *testing.T) {
	src, err := New(Origin{}, "ab\ncd\nef")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		pos          int
		line, col    int
	}{
		{0, 1, 1},
		{2, 1, 3},
		{3, 2, 1},
		{5, 2, 3},
		{6, 3, 1},
		{8, 3, 3}, // EOF
	}
	for _, c := range cases {
		line, col, err := src.PosToLineCol(c.pos)
		if err != nil {
			t.Fatal(err)
		}
		if line != c.line || col != c.col {
			t.Errorf("PosToLineCol(%d) = (%d,%d), want (%d,%d)", c.pos, line, col, c.line, c.col)
		}
	}
}

func TestPosToLineColAgreesWithLinearScan(t *testing.T) {
	text := "alpha\nbeta\n\ngamma\ndelta"
	src, err := New(Origin{}, text)
	if err != nil {
		t.Fatal(err)
	}
	for p := 0; p <= len(text); p++ {
		line, col, err := src.PosToLineCol(p)
		if err != nil {
			t.Fatal(err)
		}
		wantLine, wantCol := linearScan(text, p)
		if line != wantLine || col != wantCol {
			t.Errorf("pos %d: got (%d,%d), want (%d,%d)", p, line, col, wantLine, wantCol)
		}
	}
}

func linearScan(text string, p int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < p; i++ {
		if text[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func TestPosToLineColOutOfBounds(t *testing.T) {
	src, err := New(Origin{}, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := src.PosToLineCol(-1); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := src.PosToLineCol(4); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSpanRejectsEmptyAndNegative(t *testing.T) {
	if _, err := NewSpan(-1, 2); err == nil {
		t.Fatal("expected error for negative start")
	}
	if _, err := NewSpan(2, 2); err == nil {
		t.Fatal("expected error for empty span")
	}
}
