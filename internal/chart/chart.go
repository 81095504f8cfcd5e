package chart

import (
	"errors"
	"fmt"
	"time"
)

// ErrCalculationFailed is returned for birth data the engine cannot chart.
var ErrCalculationFailed = errors.New("chart calculation failed")

type BirthData struct {
	Date   time.Time `json:"date"`
	Hour   int       `json:"hour"`
	Minute int       `json:"minute"`
	City   string    `json:"city"`
	Gender string    `json:"gender"`
}

type Pillar struct {
	Name    string `json:"name"`
	Stem    string `json:"stem"`
	Branch  string `json:"branch"`
	Element string `json:"element"`
}

type Palace struct {
	Name   string   `json:"name"`
	Branch string   `json:"branch"`
	Stars  []string `json:"stars"`
}

type Chart struct {
	Birth      BirthData  `json:"birth"`
	SunSign    string     `json:"sun_sign"`
	SunElement string     `json:"sun_element"`
	Zodiac     string     `json:"zodiac"`
	Pillars    []Pillar   `json:"pillars"`
	Palaces    []Palace   `json:"palaces"`
	TargetDate *time.Time `json:"target_date,omitempty"`
}

// Engine maps birth parameters to a structured chart. Implementations must be
// deterministic for identical inputs; the result cache key depends on it.
type Engine interface {
	Compute(birth BirthData, target *time.Time) (*Chart, error)
}

var stems = []string{"Jia", "Yi", "Bing", "Ding", "Wu", "Ji", "Geng", "Xin", "Ren", "Gui"}

var branches = []string{"Zi", "Chou", "Yin", "Mao", "Chen", "Si", "Wu", "Wei", "Shen", "You", "Xu", "Hai"}

var animals = []string{"Rat", "Ox", "Tiger", "Rabbit", "Dragon", "Snake", "Horse", "Goat", "Monkey", "Rooster", "Dog", "Pig"}

var stemElements = []string{"Wood", "Wood", "Fire", "Fire", "Earth", "Earth", "Metal", "Metal", "Water", "Water"}

var palaceNames = []string{
	"Life", "Siblings", "Spouse", "Children", "Wealth", "Health",
	"Travel", "Friends", "Career", "Property", "Fortune", "Parents",
}

var majorStars = []string{
	"Zi Wei", "Tian Ji", "Tai Yang", "Wu Qu", "Tian Tong", "Lian Zhen", "Tian Fu",
	"Tai Yin", "Tan Lang", "Ju Men", "Tian Xiang", "Tian Liang", "Qi Sha", "Po Jun",
}

type sign struct {
	name    string
	element string
	// first day of the sign, as month*100+day
	from int
}

var signs = []sign{
	{"Capricorn", "Earth", 101},
	{"Aquarius", "Air", 120},
	{"Pisces", "Water", 219},
	{"Aries", "Fire", 321},
	{"Taurus", "Earth", 420},
	{"Gemini", "Air", 521},
	{"Cancer", "Water", 621},
	{"Leo", "Fire", 723},
	{"Virgo", "Earth", 823},
	{"Libra", "Air", 923},
	{"Scorpio", "Water", 1023},
	{"Sagittarius", "Fire", 1122},
	{"Capricorn", "Earth", 1222},
}

type engine struct{}

func NewEngine() Engine {
	return engine{}
}

func (engine) Compute(birth BirthData, target *time.Time) (*Chart, error) {
	if birth.Date.IsZero() {
		return nil, fmt.Errorf("%w: birth date is required", ErrCalculationFailed)
	}
	if birth.Hour < 0 || birth.Hour > 23 || birth.Minute < 0 || birth.Minute > 59 {
		return nil, fmt.Errorf("%w: birth time %02d:%02d out of range", ErrCalculationFailed, birth.Hour, birth.Minute)
	}

	year, month, day := birth.Date.Date()

	sunSign, sunElement := sunSignFor(int(month), day)

	yearStem := mod(year-4, 10)
	yearBranch := mod(year-4, 12)

	// Classic five-tigers month stem formula off the year stem.
	monthStem := mod((yearStem%5)*2+int(month)+1, 10)
	monthBranch := mod(int(month)+1, 12)

	days := daysSinceEpoch(year, int(month), day)
	dayStem := mod(days+9, 10)
	dayBranch := mod(days+1, 12)

	hourBranch := mod((birth.Hour+1)/2, 12)
	hourStem := mod(dayStem*2+hourBranch, 10)

	pillars := []Pillar{
		{Name: "year", Stem: stems[yearStem], Branch: branches[yearBranch], Element: stemElements[yearStem]},
		{Name: "month", Stem: stems[monthStem], Branch: branches[monthBranch], Element: stemElements[monthStem]},
		{Name: "day", Stem: stems[dayStem], Branch: branches[dayBranch], Element: stemElements[dayStem]},
		{Name: "hour", Stem: stems[hourStem], Branch: branches[hourBranch], Element: stemElements[hourStem]},
	}

	// Life palace anchors the wheel at month-vs-hour, the remaining palaces
	// follow the branch order.
	lifeIdx := mod(int(month)-1-hourBranch, 12)
	palaces := make([]Palace, len(palaceNames))
	for i, name := range palaceNames {
		branchIdx := mod(lifeIdx+i, 12)
		palaces[i] = Palace{
			Name:   name,
			Branch: branches[branchIdx],
			Stars:  starsFor(days, i),
		}
	}

	c := &Chart{
		Birth:      birth,
		SunSign:    sunSign,
		SunElement: sunElement,
		Zodiac:     animals[yearBranch],
		Pillars:    pillars,
		Palaces:    palaces,
	}
	if target != nil {
		tt := *target
		c.TargetDate = &tt
	}
	return c, nil
}

func sunSignFor(month, day int) (string, string) {
	key := month*100 + day
	current := signs[0]
	for _, s := range signs {
		if key >= s.from {
			current = s
		}
	}
	return current.name, current.element
}

func starsFor(days, palaceIdx int) []string {
	first := mod(days+palaceIdx*5, len(majorStars))
	second := mod(days*3+palaceIdx*7+1, len(majorStars))
	if second == first {
		second = mod(second+1, len(majorStars))
	}
	return []string{majorStars[first], majorStars[second]}
}

// daysSinceEpoch counts civil days from 1970-01-01 without time.Time to keep
// the pillar math independent of time zones.
func daysSinceEpoch(y, m, d int) int {
	y += 10000 // keep the cycle positive for ancient dates
	a := (14 - m) / 12
	yy := y + 4800 - a
	mm := m + 12*a - 3
	jdn := d + (153*mm+2)/5 + 365*yy + yy/4 - yy/100 + yy/400 - 32045
	return jdn
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
