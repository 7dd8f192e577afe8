package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"schoolattendance/internal/model"
	"schoolattendance/internal/punctuality"
	"schoolattendance/internal/store"
)

const (
	attendanceSheet = "Attendance"
	summarySheet    = "Summary"
)

var attendanceHeaders = []string{"Name", "User ID", "Date", "Time", "Type", "Status", "Latitude", "Longitude", "Address", "Photo"}

var summaryHeaders = []string{"Name", "User ID", "Check-ins", "Late", "Check-outs", "Early Leave"}

// ExportAttendance writes every record matching f as an XLSX workbook to w.
func (r *Reporter) ExportAttendance(ctx context.Context, w io.Writer, f store.AttendanceFilter) error {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	recs, err := r.store.ListAttendance(ctx, f)
	if err != nil {
		return fmt.Errorf("list attendance: %w", err)
	}
	labeled := r.Label(recs, settings.AttendanceHours)
	sort.SliceStable(labeled, func(i, j int) bool { return labeled[i].Timestamp.Before(labeled[j].Timestamp) })

	book := excelize.NewFile()
	defer book.Close()

	if err := book.SetSheetName(book.GetSheetName(0), attendanceSheet); err != nil {
		return err
	}
	if err := writeRow(book, attendanceSheet, 1, toCells(attendanceHeaders)); err != nil {
		return err
	}
	for i, rec := range labeled {
		if err := writeRow(book, attendanceSheet, i+2, r.attendanceRow(rec)); err != nil {
			return err
		}
	}

	if _, err := book.NewSheet(summarySheet); err != nil {
		return err
	}
	if err := writeRow(book, summarySheet, 1, toCells(summaryHeaders)); err != nil {
		return err
	}
	for i, row := range summarize(labeled) {
		if err := writeRow(book, summarySheet, i+2, row); err != nil {
			return err
		}
	}

	_ = book.SetPanes(attendanceSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	_ = book.SetColWidth(attendanceSheet, "A", "A", 24)
	_ = book.SetColWidth(attendanceSheet, "I", "I", 36)

	if _, err := book.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (r *Reporter) attendanceRow(rec LabeledRecord) []any {
	ts := rec.Timestamp.In(r.loc)
	photo := rec.Photo
	if strings.HasPrefix(photo, "data:") {
		photo = "(inline image)"
	}
	typ := "Check-in"
	if rec.Type == model.DirectionOut {
		typ = "Check-out"
	}
	return []any{
		rec.UserName,
		rec.UserID,
		ts.Format(dayLayout),
		ts.Format("15:04:05"),
		typ,
		string(rec.Status),
		rec.Location.Lat,
		rec.Location.Lng,
		rec.Location.Address,
		photo,
	}
}

type userTotals struct {
	name, id                  string
	in, late, out, earlyLeave int
}

func summarize(recs []LabeledRecord) [][]any {
	byUser := map[string]*userTotals{}
	var order []string
	for _, rec := range recs {
		t, ok := byUser[rec.UserID]
		if !ok {
			t = &userTotals{name: rec.UserName, id: rec.UserID}
			byUser[rec.UserID] = t
			order = append(order, rec.UserID)
		}
		switch {
		case rec.Type == model.DirectionIn:
			t.in++
			if rec.Status == punctuality.Late {
				t.late++
			}
		case rec.Type == model.DirectionOut:
			t.out++
			if rec.Status == punctuality.EarlyLeave {
				t.earlyLeave++
			}
		}
	}
	rows := make([][]any, 0, len(order))
	for _, id := range order {
		t := byUser[id]
		rows = append(rows, []any{t.name, t.id, t.in, t.late, t.out, t.earlyLeave})
	}
	return rows
}

func toCells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func writeRow(book *excelize.File, sheet string, row int, values []any) error {
	for col, val := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := book.SetCellValue(sheet, cell, val); err != nil {
			return fmt.Errorf("failed to set cell value: %w", err)
		}
	}
	return nil
}
