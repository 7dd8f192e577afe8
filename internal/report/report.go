// Package report builds dashboard statistics and spreadsheet exports.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"schoolattendance/internal/model"
	"schoolattendance/internal/punctuality"
	"schoolattendance/internal/store"
)

const dayLayout = "2006-01-02"

// Reporter reads every collection to build summaries.
type Reporter struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

func New(st store.Store, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{store: st, loc: loc, now: time.Now}
}

// LabeledRecord is a record with its punctuality verdict.
type LabeledRecord struct {
	model.AttendanceRecord
	Status punctuality.Label `json:"status"`
}

// Dashboard is the per-user overview.
type Dashboard struct {
	Day                 string          `json:"day"`
	CheckIns            int             `json:"checkIns"`
	LateCheckIns        int             `json:"lateCheckIns"`
	Journals            int             `json:"journals"`
	ApprovedPermissions int             `json:"approvedPermissions"`
	PendingPermissions  int             `json:"pendingPermissions"`
	UnreadNotifications int             `json:"unreadNotifications"`
	CheckIn             *LabeledRecord  `json:"checkIn"`
	CheckOut            *LabeledRecord  `json:"checkOut"`
	Recent              []LabeledRecord `json:"recent"`
}

// AdminSummary is the school-wide overview.
type AdminSummary struct {
	Day                string          `json:"day"`
	Users              int             `json:"users"`
	CheckInsToday      int             `json:"checkInsToday"`
	LateToday          int             `json:"lateToday"`
	CheckOutsToday     int             `json:"checkOutsToday"`
	PendingPermissions int             `json:"pendingPermissions"`
	Recent             []LabeledRecord `json:"recent"`
}

const recentLimit = 10

func (r *Reporter) today() string { return r.now().In(r.loc).Format(dayLayout) }

// Label attaches punctuality verdicts to records. Records whose hours cannot be
// parsed are left without a status.
func (r *Reporter) Label(recs []model.AttendanceRecord, hours model.AttendanceHours) []LabeledRecord {
	out := make([]LabeledRecord, 0, len(recs))
	for _, rec := range recs {
		label, _ := punctuality.Record(rec, hours, r.loc)
		out = append(out, LabeledRecord{AttendanceRecord: rec, Status: label})
	}
	return out
}

func newestFirst(recs []LabeledRecord, limit int) []LabeledRecord {
	sorted := append([]LabeledRecord(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Dashboard summarizes userID's records.
func (r *Reporter) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load settings: %w", err)
	}
	recs, err := r.store.ListAttendance(ctx, store.AttendanceFilter{UserID: userID})
	if err != nil {
		return Dashboard{}, fmt.Errorf("list attendance: %w", err)
	}
	journals, err := r.store.ListJournals(ctx, userID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list journals: %w", err)
	}
	perms, err := r.store.ListPermissions(ctx, store.PermissionFilter{UserID: userID})
	if err != nil {
		return Dashboard{}, fmt.Errorf("list permissions: %w", err)
	}
	notes, err := r.store.ListNotifications(ctx, userID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list notifications: %w", err)
	}

	d := Dashboard{Day: r.today(), Journals: len(journals)}
	labeled := r.Label(recs, settings.AttendanceHours)
	for i := range labeled {
		rec := labeled[i]
		if rec.Type == model.DirectionIn {
			d.CheckIns++
			if rec.Status == punctuality.Late {
				d.LateCheckIns++
			}
		}
		if rec.Day != d.Day {
			continue
		}
		switch rec.Type {
		case model.DirectionIn:
			d.CheckIn = &rec
		case model.DirectionOut:
			d.CheckOut = &rec
		}
	}
	for _, p := range perms {
		switch p.Status {
		case model.PermissionApproved:
			d.ApprovedPermissions++
		case model.PermissionPending:
			d.PendingPermissions++
		}
	}
	for _, n := range notes {
		if !n.IsRead {
			d.UnreadNotifications++
		}
	}
	d.Recent = newestFirst(labeled, recentLimit)
	return d, nil
}

// Summary is the admin overview of the current day.
func (r *Reporter) Summary(ctx context.Context) (AdminSummary, error) {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return AdminSummary{}, fmt.Errorf("load settings: %w", err)
	}
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return AdminSummary{}, fmt.Errorf("list users: %w", err)
	}
	pending, err := r.store.ListPermissions(ctx, store.PermissionFilter{Status: model.PermissionPending})
	if err != nil {
		return AdminSummary{}, fmt.Errorf("list permissions: %w", err)
	}
	day := r.today()
	recs, err := r.store.ListAttendance(ctx, store.AttendanceFilter{Day: day})
	if err != nil {
		return AdminSummary{}, fmt.Errorf("list attendance: %w", err)
	}

	s := AdminSummary{Day: day, Users: len(users), PendingPermissions: len(pending)}
	labeled := r.Label(recs, settings.AttendanceHours)
	for _, rec := range labeled {
		switch rec.Type {
		case model.DirectionIn:
			s.CheckInsToday++
			if rec.Status == punctuality.Late {
				s.LateToday++
			}
		case model.DirectionOut:
			s.CheckOutsToday++
		}
	}
	s.Recent = newestFirst(labeled, recentLimit)
	return s, nil
}
