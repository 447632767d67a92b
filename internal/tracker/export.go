package tracker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name, case-insensitively. "yml" is accepted.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv, json or yaml)", s)
	}
}

// ExportRow is one exported day.
type ExportRow struct {
	Date        string   `json:"date" yaml:"date"`
	Weight      *float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	Calories    float64  `json:"calories" yaml:"calories"`
	Protein     float64  `json:"protein" yaml:"protein"`
	Water       int64    `json:"water" yaml:"water"`
	Steps       int64    `json:"steps" yaml:"steps"`
	Workout     string   `json:"workout,omitempty" yaml:"workout,omitempty"`
	OMAD        bool     `json:"omad" yaml:"omad"`
	Skincare    bool     `json:"skincare" yaml:"skincare"`
	BrushAM     bool     `json:"brushAM" yaml:"brushAM"`
	BrushPM     bool     `json:"brushPM" yaml:"brushPM"`
	Bathing     bool     `json:"bathing" yaml:"bathing"`
	Laundry     bool     `json:"laundry" yaml:"laundry"`
	RoomCleaned bool     `json:"roomCleaned" yaml:"roomCleaned"`
	Points      int      `json:"points" yaml:"points"`
	Notes       string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

var csvHeader = []string{
	"Date", "Weight (kg)", "Calories", "Protein (g)", "Water", "Steps", "Workout",
	"OMAD", "Skincare", "Brush AM", "Brush PM", "Bathing", "Laundry", "Room Cleaned",
	"Points", "Notes",
}

// Export builds one row per day from start to end inclusive. Days never
// saved are exported with default values.
func (t *Tracker) Export(ctx context.Context, start, end string) ([]ExportRow, error) {
	dates, err := schema.DateRange(start, end)
	if err != nil {
		return nil, err
	}
	snap := t.local.Load(ctx)
	goals := t.Goals(ctx)

	rows := make([]ExportRow, 0, len(dates))
	for _, date := range dates {
		rows = append(rows, NewExportRow(date, snap.GetOrDefault(date), goals))
	}
	return rows, nil
}

// NewExportRow flattens rec into an export row.
func NewExportRow(date string, rec *schema.Record, g Goals) ExportRow {
	totals := DayTotals(rec)
	row := ExportRow{
		Date:        date,
		Calories:    totals.Calories,
		Protein:     totals.Protein,
		Water:       rec.Int("water"),
		Steps:       Steps(rec, g),
		Workout:     WorkoutName(rec, g),
		OMAD:        rec.Bool("omad"),
		Skincare:    rec.Bool("skincare"),
		BrushAM:     rec.Bool("brushAM"),
		BrushPM:     rec.Bool("brushPM"),
		Bathing:     rec.Bool("bathing"),
		Laundry:     rec.Bool("laundry"),
		RoomCleaned: rec.Bool("roomCleaned"),
		Points:      DayPoints(rec, g),
		Notes:       rec.String("note"),
	}
	if w := rec.Float("weight"); w != 0 {
		row.Weight = &w
	}
	return row
}

// WriteExport encodes rows to w in format.
func WriteExport(w io.Writer, format Format, rows []ExportRow) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, rows)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		weight := ""
		if r.Weight != nil {
			weight = formatFloat(*r.Weight)
		}
		if err := cw.Write([]string{
			r.Date,
			weight,
			formatFloat(r.Calories),
			formatFloat(r.Protein),
			strconv.FormatInt(r.Water, 10),
			strconv.FormatInt(r.Steps, 10),
			r.Workout,
			yesNo(r.OMAD),
			yesNo(r.Skincare),
			yesNo(r.BrushAM),
			yesNo(r.BrushPM),
			yesNo(r.Bathing),
			yesNo(r.Laundry),
			yesNo(r.RoomCleaned),
			strconv.Itoa(r.Points),
			r.Notes,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFileName is the default file name for an export of start..end.
func ExportFileName(start, end string, format Format) string {
	return fmt.Sprintf("kensho-export-%s-to-%s.%s", start, end, format)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
