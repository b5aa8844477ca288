package attempt

import (
	"encoding/json"
	"testing"
	"time"
)

func TestGradeSelectionAcceptsCorrectIndex(t *testing.T) {
	if !GradeSelection(json.RawMessage(`2`), 2) {
		t.Fatalf("matching option index should grade correct")
	}
	if GradeSelection(json.RawMessage(`1`), 2) {
		t.Fatalf("mismatching option index should grade incorrect")
	}
}

func TestGradeSelectionMalformedNeverErrors(t *testing.T) {
	// Everything that is not an integer in 0-3 grades incorrect.
	cases := []string{
		`"2"`,      // string, even if numeric
		`2.5`,      // fraction
		`-1`,       // below range
		`4`,        // above range
		`99`,       // far out of range
		`null`,     //
		`true`,     //
		`{"a":1}`,  //
		`[2]`,      //
		`not-json`, //
		``,         // absent
	}
	for _, raw := range cases {
		if GradeSelection(json.RawMessage(raw), 2) {
			t.Errorf("payload %q graded correct, want incorrect", raw)
		}
	}
}

func TestGradeSelectionNullNotOptionZero(t *testing.T) {
	// A JSON null leaves an int target at its zero value; it must never
	// pass as a real answer of option 0.
	if GradeSelection(json.RawMessage(`null`), 0) {
		t.Fatalf("null payload graded correct against correct index 0")
	}
	if GradeSelection(json.RawMessage(` null `), 0) {
		t.Fatalf("padded null payload graded correct against correct index 0")
	}
}

func TestGradeSelectionNoCorrectOption(t *testing.T) {
	// A question with no correct option on record (index -1) grades
	// every in-range answer wrong.
	for i := 0; i <= 3; i++ {
		raw, _ := json.Marshal(i)
		if GradeSelection(raw, -1) {
			t.Errorf("option %d graded correct against a question with no answer key", i)
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Minute, "01:30:00"},
		{61 * time.Second, "00:01:01"},
		{0, "00:00:00"},
		{-5 * time.Minute, "00:00:00"}, // overdue floors at zero
	}
	for _, tc := range cases {
		if got := FormatRemaining(tc.d); got != tc.want {
			t.Errorf("FormatRemaining(%v) = %s, want %s", tc.d, got, tc.want)
		}
	}
}
