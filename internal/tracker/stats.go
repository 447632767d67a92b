package tracker

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Goals are the daily targets from the profile document.
type Goals struct {
	Calories int64
	Water    int64
	Steps    int64
	// Workouts maps a program day number to its name.
	Workouts map[string]string

	StartWeight float64
	GoalWeight  float64

	// Habits that count towards a streak.
	Skincare bool
	OMAD     bool
}

// GoalsFromProfile reads targets from profile, filling defaults for any
// unset value. profile may be nil.
func GoalsFromProfile(profile *schema.Record) Goals {
	g := Goals{
		Calories:    2000,
		Water:       8,
		Steps:       10000,
		Workouts:    map[string]string{},
		StartWeight: 85,
		GoalWeight:  70,
		Skincare:    true,
	}
	if profile == nil {
		return g
	}
	if v := profile.Float("startWeight"); v > 0 {
		g.StartWeight = v
	}
	if v := profile.Float("goalWeight"); v > 0 {
		g.GoalWeight = v
	}
	if v, ok := profile.Get("enableSkincare"); ok && v == false {
		g.Skincare = false
	}
	g.OMAD = profile.Bool("enableOmad")
	if v := profile.Int("calTarget"); v > 0 {
		g.Calories = v
	}
	if v := profile.Int("waterGoal"); v > 0 {
		g.Water = v
	}
	if v := profile.Int("stepGoal"); v > 0 {
		g.Steps = v
	}
	if program, ok := profile.Get("workoutProgram"); ok {
		if days, ok := program.(map[string]any); ok {
			for day, v := range days {
				entry, _ := v.(map[string]any)
				if name, _ := entry["name"].(string); name != "" {
					g.Workouts[day] = name
				}
			}
		}
	}
	return g
}

// Totals are the nutrition sums of a day's logged meals.
type Totals struct {
	Calories float64 `json:"cal" yaml:"cal"`
	Protein  float64 `json:"protein" yaml:"protein"`
	Carbs    float64 `json:"carbs" yaml:"carbs"`
	Fat      float64 `json:"fat" yaml:"fat"`
}

// DayTotals sums the totals of every food entry of rec.
func DayTotals(rec *schema.Record) Totals {
	var t Totals
	if rec == nil {
		return t
	}
	v, _ := rec.Get("foods")
	foods, _ := v.([]any)
	for _, f := range foods {
		entry, _ := f.(map[string]any)
		total, _ := entry["total"].(map[string]any)
		t.Calories += number(total["cal"])
		t.Protein += number(total["protein"])
		t.Carbs += number(total["carbs"])
		t.Fat += number(total["fat"])
	}
	return t
}

// Steps returns the step count of rec. A legacy "done" flag counts as
// reaching the goal.
func Steps(rec *schema.Record, g Goals) int64 {
	if rec == nil {
		return 0
	}
	if v, _ := rec.Get("steps"); v == true {
		return g.Steps
	}
	return rec.Int("steps")
}

// WorkoutName returns the name of the completed workout, or "".
func WorkoutName(rec *schema.Record, g Goals) string {
	if rec == nil || !rec.Bool("workout") {
		return ""
	}
	v, _ := rec.Get("workoutDay")
	var day string
	if n, ok := schema.AsInt(v); ok {
		day = strconv.FormatInt(n, 10)
	} else if v != nil {
		day = fmt.Sprint(v)
	}
	if name, ok := g.Workouts[day]; ok {
		return name
	}
	return "Day " + day
}

// DayPoints scores a day.
func DayPoints(rec *schema.Record, g Goals) int {
	if rec == nil {
		return 0
	}
	pts := 0
	for field, value := range map[string]int{
		"brushAM":     5,
		"brushPM":     5,
		"bathing":     10,
		"skincare":    10,
		"workout":     25,
		"laundry":     20,
		"roomCleaned": 20,
	} {
		if rec.Bool(field) {
			pts += value
		}
	}
	if rec.Int("water") >= g.Water {
		pts += 10
	}
	if Steps(rec, g) >= g.Steps {
		pts += 15
	}
	return pts
}

// stepsDone reports whether rec reached the step goal.
func stepsDone(rec *schema.Record, g Goals) bool {
	return Steps(rec, g) >= g.Steps
}

// Streak counts consecutive saved days ending at today on which the step
// goal was met along with every enabled daily habit.
func Streak(snap schema.Snapshot, today string, g Goals) int {
	day, err := schema.ParseDateKey(today, time.UTC)
	if err != nil {
		return 0
	}
	n := 0
	for {
		rec := snap.Record(schema.DateKey(day))
		if rec == nil || !stepsDone(rec, g) {
			return n
		}
		if g.Skincare && !rec.Bool("skincare") {
			return n
		}
		if g.OMAD && !rec.Bool("omad") {
			return n
		}
		n++
		day = day.AddDate(0, 0, -1)
	}
}

// WeekStart returns the Monday of the week containing date.
func WeekStart(date string) (string, error) {
	day, err := schema.ParseDateKey(date, time.UTC)
	if err != nil {
		return "", err
	}
	offset := (int(day.Weekday()) + 6) % 7
	return schema.DateKey(day.AddDate(0, 0, -offset)), nil
}

// WeekWorkouts counts saved days with a workout in the Monday-based week
// containing date.
func WeekWorkouts(snap schema.Snapshot, date string) int {
	start, err := WeekStart(date)
	if err != nil {
		return 0
	}
	n := 0
	for key, rec := range snap.Records {
		if ws, err := WeekStart(key); err == nil && ws == start && rec.Bool("workout") {
			n++
		}
	}
	return n
}

// WeightPoint is one logged weight.
type WeightPoint struct {
	Date   string  `json:"date" yaml:"date"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// WeightHistory returns the last limit logged weights in date order.
// limit <= 0 returns all of them.
func WeightHistory(snap schema.Snapshot, limit int) []WeightPoint {
	var points []WeightPoint
	for key, rec := range snap.Records {
		if w := rec.Float("weight"); w > 0 {
			points = append(points, WeightPoint{Date: key, Weight: w})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points
}

// LatestWeight returns the most recent logged weight, or the start weight
// when none was logged.
func LatestWeight(snap schema.Snapshot, g Goals) float64 {
	if h := WeightHistory(snap, 1); len(h) == 1 {
		return h[0].Weight
	}
	return g.StartWeight
}

// CompletionRate is the all-time percentage of steps, skincare and OMAD
// checks met across saved days.
func CompletionRate(snap schema.Snapshot, g Goals) int {
	if len(snap.Records) == 0 {
		return 0
	}
	total, done := 0, 0
	for _, rec := range snap.Records {
		if rec == nil {
			continue
		}
		total += 3
		if stepsDone(rec, g) {
			done++
		}
		if rec.Bool("skincare") {
			done++
		}
		if rec.Bool("omad") {
			done++
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// Summary is the progress overview shown on the dashboard.
type Summary struct {
	Today          string        `json:"today" yaml:"today"`
	Day            int           `json:"day" yaml:"day"`
	Streak         int           `json:"streak" yaml:"streak"`
	WeekWorkouts   int           `json:"weekWorkouts" yaml:"weekWorkouts"`
	CompletionRate int           `json:"completionRate" yaml:"completionRate"`
	CurrentWeight  float64       `json:"currentWeight" yaml:"currentWeight"`
	Lost           float64       `json:"lost" yaml:"lost"`
	Remaining      float64       `json:"remaining" yaml:"remaining"`
	WeightHistory  []WeightPoint `json:"weightHistory" yaml:"weightHistory"`
}

// NewSummary computes the overview of snap as of today.
func NewSummary(snap schema.Snapshot, today string, g Goals) Summary {
	cw := LatestWeight(snap, g)
	return Summary{
		Today:          today,
		Streak:         Streak(snap, today, g),
		WeekWorkouts:   WeekWorkouts(snap, today),
		CompletionRate: CompletionRate(snap, g),
		CurrentWeight:  cw,
		Lost:           g.StartWeight - cw,
		Remaining:      cw - g.GoalWeight,
		WeightHistory:  WeightHistory(snap, 20),
	}
}

func number(v any) float64 {
	f, _ := schema.AsFloat(v)
	return f
}
