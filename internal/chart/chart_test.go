package chart

import (
	"reflect"
	"testing"
	"time"
)

func birth(y int, m time.Month, d, hour, min int) BirthData {
	return BirthData{
		Date:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Hour:   hour,
		Minute: min,
		City:   "Taipei",
		Gender: "female",
	}
}

func TestCompute_Deterministic(t *testing.T) {
	e := NewEngine()
	b := birth(1990, time.June, 15, 8, 30)

	c1, err := e.Compute(b, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	c2, err := e.Compute(b, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if !reflect.DeepEqual(c1, c2) {
		t.Error("Expected identical charts for identical inputs")
	}
}

func TestCompute_SunSigns(t *testing.T) {
	cases := []struct {
		m    time.Month
		d    int
		sign string
	}{
		{time.January, 1, "Capricorn"},
		{time.January, 20, "Aquarius"},
		{time.March, 20, "Pisces"},
		{time.March, 21, "Aries"},
		{time.June, 15, "Gemini"},
		{time.August, 1, "Leo"},
		{time.November, 30, "Sagittarius"},
		{time.December, 25, "Capricorn"},
	}

	e := NewEngine()
	for _, tc := range cases {
		c, err := e.Compute(birth(1990, tc.m, tc.d, 12, 0), nil)
		if err != nil {
			t.Fatalf("Compute failed for %v %d: %v", tc.m, tc.d, err)
		}
		if c.SunSign != tc.sign {
			t.Errorf("%v %d: expected %s, got %s", tc.m, tc.d, tc.sign, c.SunSign)
		}
	}
}

func TestCompute_Structure(t *testing.T) {
	e := NewEngine()
	target := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	c, err := e.Compute(birth(1984, time.February, 10, 23, 5), &target)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if len(c.Pillars) != 4 {
		t.Errorf("Expected 4 pillars, got %d", len(c.Pillars))
	}
	if len(c.Palaces) != 12 {
		t.Errorf("Expected 12 palaces, got %d", len(c.Palaces))
	}
	if c.Zodiac == "" || c.SunElement == "" {
		t.Errorf("Expected zodiac and element to be set, got %+v", c)
	}
	if c.TargetDate == nil || !c.TargetDate.Equal(target) {
		t.Errorf("Expected target date to be carried, got %v", c.TargetDate)
	}

	seen := map[string]bool{}
	for _, p := range c.Palaces {
		if seen[p.Name] {
			t.Errorf("Duplicate palace %s", p.Name)
		}
		seen[p.Name] = true
		if len(p.Stars) == 0 {
			t.Errorf("Palace %s has no stars", p.Name)
		}
	}
}

func TestCompute_InvalidInput(t *testing.T) {
	e := NewEngine()

	if _, err := e.Compute(BirthData{}, nil); err == nil {
		t.Error("Expected error for zero birth date")
	}

	b := birth(1990, time.June, 15, 25, 0)
	if _, err := e.Compute(b, nil); err == nil {
		t.Error("Expected error for out-of-range hour")
	}
}
