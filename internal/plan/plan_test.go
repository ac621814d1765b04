package plan

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-03-09")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if d.String() != "2026-03-09" {
		t.Errorf("String() = %q, want %q", d.String(), "2026-03-09")
	}
	if d != NewDate(2026, time.March, 9) {
		t.Error("parsed date != NewDate for same day")
	}
	if _, err := ParseDate("03/09/2026"); err == nil {
		t.Error("ParseDate(03/09/2026) expected error")
	}
}

func TestDateArithmetic(t *testing.T) {
	d := MustParseDate("2026-02-27")
	if got := d.AddDays(2).String(); got != "2026-03-01" {
		t.Errorf("AddDays(2) = %q, want 2026-03-01", got)
	}
	if got := d.DaysUntil(MustParseDate("2026-03-09")); got != 10 {
		t.Errorf("DaysUntil() = %d, want 10", got)
	}
	if !d.Before(d.AddDays(1)) || d.After(d) {
		t.Error("Before/After mismatch")
	}
	if MinDate(d, d.AddDays(-1)) != d.AddDays(-1) {
		t.Error("MinDate returned the later date")
	}
	if DateOf(time.Date(2026, 2, 27, 23, 59, 0, 0, time.FixedZone("X", -5*3600))) != d {
		t.Error("DateOf ignored the time's own zone")
	}
}

func TestDateJSON(t *testing.T) {
	type wrapper struct {
		D Date `json:"d"`
	}
	data, err := json.Marshal(wrapper{D: MustParseDate("2026-05-01")})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"d":"2026-05-01"}` {
		t.Errorf("Marshal() = %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"d":"2026-13-01"}`), &w); err == nil {
		t.Error("Unmarshal(bad month) expected error")
	}
}

func TestTierRankAndLabel(t *testing.T) {
	if TierCritical.Rank() >= TierOptional.Rank() {
		t.Error("critical should rank before optional")
	}
	if Tier("urgent").Valid() {
		t.Error(`Tier("urgent").Valid() = true`)
	}
	if TierCritical.Label() != "CRITICAL - Must Study" {
		t.Errorf("Label() = %q", TierCritical.Label())
	}

	tier, err := ParseTier(" High ")
	if err != nil || tier != TierHigh {
		t.Errorf("ParseTier(High) = %q, %v", tier, err)
	}
	if tier, _ := ParseTier(""); tier != TierMedium {
		t.Errorf("ParseTier(\"\") = %q, want medium", tier)
	}
	if _, err := ParseTier("urgent"); err == nil {
		t.Error("ParseTier(urgent) expected error")
	}
}

func TestCalendar(t *testing.T) {
	sat := MustParseDate("2026-03-07")
	mon := MustParseDate("2026-03-09")
	tue := mon.AddDays(1)

	cal := Calendar{
		DefaultCapacity:  60,
		Overrides:        map[Date]int{tue: 15, sat: 120},
		BlackoutWeekdays: []time.Weekday{time.Saturday, time.Sunday},
		BlackoutDates:    map[Date]bool{mon.AddDays(2): true},
	}

	if cal.Capacity(sat) != 0 {
		t.Errorf("Capacity(sat) = %d, want 0 (blackout beats override)", cal.Capacity(sat))
	}
	if cal.Capacity(mon) != 60 {
		t.Errorf("Capacity(mon) = %d, want 60", cal.Capacity(mon))
	}
	if cal.Capacity(tue) != 15 {
		t.Errorf("Capacity(tue) = %d, want 15", cal.Capacity(tue))
	}

	days := cal.EligibleDays(sat, mon.AddDays(3))
	want := []string{"2026-03-09", "2026-03-10", "2026-03-12"}
	if len(days) != len(want) {
		t.Fatalf("EligibleDays() = %v, want %v", days, want)
	}
	for i := range want {
		if days[i].String() != want[i] {
			t.Errorf("EligibleDays()[%d] = %s, want %s", i, days[i], want[i])
		}
	}
	if got := cal.Available(sat, mon.AddDays(3)); got != 60+15+60 {
		t.Errorf("Available() = %d, want 135", got)
	}
}

func TestStrategy(t *testing.T) {
	if !StrategyBalanced.Selectable() {
		t.Error("balanced should be selectable")
	}
	if StrategyDeadlineFirst.Selectable() {
		t.Error("deadline_first should not be selectable")
	}
	if !StrategyDeadlineFirst.Valid() {
		t.Error("deadline_first should be valid")
	}
}
