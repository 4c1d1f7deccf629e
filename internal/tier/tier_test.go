package tier

import (
	"testing"
)

func TestForVisits(t *testing.T) {
	tb := Default()
	cases := []struct {
		visits   int
		label    string
		discount int
	}{
		{0, "IRON", 3},
		{1, "IRON", 3},
		{4, "IRON", 3},
		{5, "BRONZE", 5},
		{14, "BRONZE", 5},
		{15, "SILVER", 7},
		{34, "SILVER", 7},
		{35, "GOLD", 10},
		{500, "GOLD", 10},
	}
	for _, c := range cases {
		got := tb.ForVisits(c.visits)
		if got.Label != c.label || got.Discount != c.discount {
			t.Fatalf("ForVisits(%d) = %s/%d, want %s/%d", c.visits, got.Label, got.Discount, c.label, c.discount)
		}
	}
}

func TestForVisitsMonotonic(t *testing.T) {
	tb := Default()
	prev := tb.ForVisits(0).Discount
	for v := 1; v <= 100; v++ {
		d := tb.ForVisits(v).Discount
		if d < prev {
			t.Fatalf("discount dropped at %d: %d < %d", v, d, prev)
		}
		prev = d
	}
}

func TestNext(t *testing.T) {
	tb := Default()

	next, remaining, ok := tb.Next(3)
	if !ok || next.Label != "BRONZE" || remaining != 2 {
		t.Fatalf("Next(3) = %v %d %v", next, remaining, ok)
	}
	next, remaining, ok = tb.Next(0)
	if !ok || next.Label != "IRON" || remaining != 1 {
		t.Fatalf("Next(0) = %v %d %v", next, remaining, ok)
	}
	if _, _, ok := tb.Next(35); ok {
		t.Fatalf("Next(35) should report top tier")
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
	if err := (Table{}).Validate(); err != ErrEmptyTable {
		t.Fatalf("want ErrEmptyTable, got %v", err)
	}
	bad := Table{{Threshold: 5}, {Threshold: 5}}
	if err := bad.Validate(); err != ErrUnsortedTable {
		t.Fatalf("want ErrUnsortedTable, got %v", err)
	}
}

func TestUpgradeTargets(t *testing.T) {
	got := Default().UpgradeTargets(2)
	want := map[string]int{
		"BRONZE/1": 4,
		"SILVER/2": 13, "SILVER/1": 14,
		"GOLD/2": 33, "GOLD/1": 34,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d targets, want %d", len(got), len(want))
	}
	for _, u := range got {
		key := u.Target.Label + "/" + string(rune('0'+u.Remaining))
		if want[key] != u.Visits {
			t.Fatalf("%s: visits %d, want %d", key, u.Visits, want[key])
		}
	}
}

func TestFindAndDisplay(t *testing.T) {
	tb := Default()
	g, ok := tb.Find("gold")
	if !ok || g.Display() != "GOLD🥇" {
		t.Fatalf("Find(gold) = %v %v", g, ok)
	}
	if !tb.Top(g) {
		t.Fatalf("GOLD should be top")
	}
	if _, ok := tb.Find("platinum"); ok {
		t.Fatalf("unexpected platinum")
	}
}

func TestAboveSkipsCurrentTier(t *testing.T) {
	tb := Default()
	cases := []struct {
		visits int
		label  string
		remain int
	}{
		{0, "BRONZE", 5},
		{1, "BRONZE", 4},
		{5, "SILVER", 10},
		{34, "GOLD", 1},
	}
	for _, c := range cases {
		next, remain, ok := tb.Above(c.visits)
		if !ok || next.Label != c.label || remain != c.remain {
			t.Fatalf("Above(%d) = %s %d %v, want %s %d", c.visits, next.Label, remain, ok, c.label, c.remain)
		}
	}
	if _, _, ok := tb.Above(35); ok {
		t.Fatalf("Above(35) should report top")
	}
}
