package types

import (
	"encoding/json"
	"testing"
)

func TestMerge_IsMaxSeverity(t *testing.T) {
	all := []Status{StatusHealthy, StatusSick, StatusDead}
	for _, cur := range all {
		for _, cand := range all {
			want := cur
			if cand > cur {
				want = cand
			}
			if got := cur.Merge(cand); got != want {
				t.Errorf("%v.Merge(%v) = %v, want %v", cur, cand, got, want)
			}
		}
	}
}

func TestMerge_NoDowngradeMidFold(t *testing.T) {
	children := []Status{StatusHealthy, StatusDead, StatusHealthy, StatusSick, StatusHealthy}

	rollup := StatusHealthy
	for i, c := range children {
		rollup = rollup.Merge(c)
		if i >= 1 && rollup != StatusDead {
			t.Fatalf("after child %d rollup = %v, want dead", i, rollup)
		}
	}
}

func TestStatus_JSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(map[string]Status{"s": StatusSick})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"s":"sick"}` {
		t.Errorf("marshal = %s", b)
	}

	var out struct {
		S Status `json:"s"`
	}
	if err := json.Unmarshal([]byte(`{"s":"dead"}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.S != StatusDead {
		t.Errorf("unmarshal = %v, want dead", out.S)
	}

	if err := json.Unmarshal([]byte(`{"s":"zombie"}`), &out); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModePoll, ModePush, ModeScript, ModeLocal} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if Mode("pull").Valid() {
		t.Error(`"pull" should be invalid`)
	}
}
