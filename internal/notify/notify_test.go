package notify

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/cloudinary"
	"schoolattendance/internal/model"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

var wib = time.FixedZone("WIB", 7*3600)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewFile(filepath.Join(t.TempDir(), "db.json"), 0, quiet())
	require.NoError(t, err)
	return st
}

type fakeUploader struct {
	calls int
	err   error
}

func (f *fakeUploader) UploadDataURI(_ context.Context, _ string, publicID string) (*cloudinary.UploadResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &cloudinary.UploadResult{PublicID: publicID, SecureURL: "https://cdn.example/" + publicID + ".jpg"}, nil
}

func TestCreateValidates(t *testing.T) {
	svc := NewService(newStore(t), nil, quiet())
	ctx := context.Background()

	_, err := svc.Create(ctx, model.Notification{Title: "x"})
	assert.ErrorIs(t, err, ErrUserRequired)
	_, err = svc.Create(ctx, model.Notification{UserID: "u"})
	assert.ErrorIs(t, err, ErrTitleRequired)
	_, err = svc.Create(ctx, model.Notification{UserID: "u", Title: "x", Type: "loud"})
	assert.ErrorIs(t, err, ErrInvalidType)

	n, err := svc.Create(ctx, model.Notification{UserID: "u", Title: "x", IsRead: true})
	require.NoError(t, err)
	assert.Equal(t, model.NotificationInfo, n.Type)
	assert.False(t, n.IsRead)
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Timestamp.IsZero())

	changed, err := svc.MarkAllRead(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
}

func recordAt(t *testing.T, st store.Store, dir model.Direction, hh, mm, ss int) model.AttendanceRecord {
	t.Helper()
	ts := time.Date(2024, 5, 1, hh, mm, ss, 0, wib)
	rec, err := st.CreateAttendance(context.Background(), model.AttendanceRecord{
		UserID: "u-1", UserName: "Siti", Timestamp: ts, Day: "2024-05-01", Type: dir,
		Photo: "data:image/jpeg;base64,AAAA",
	})
	require.NoError(t, err)
	return rec
}

func recorded(t *testing.T, rec model.AttendanceRecord) queue.Message {
	t.Helper()
	msg, err := queue.Encode(queue.TypeAttendanceRecorded, queue.AttendanceRecorded{RecordID: rec.ID, UserID: rec.UserID, Direction: string(rec.Type)})
	require.NoError(t, err)
	return msg
}

func TestAttendanceNotifications(t *testing.T) {
	cases := []struct {
		name      string
		dir       model.Direction
		h, m, s   int
		wantType  model.NotificationType
		wantTitle string
	}{
		{"check-in at cutoff", model.DirectionIn, 8, 30, 0, model.NotificationSuccess, "Check-in recorded"},
		{"check-in one second late", model.DirectionIn, 8, 30, 1, model.NotificationWarning, "Late check-in"},
		{"check-out on time", model.DirectionOut, 15, 0, 0, model.NotificationSuccess, "Check-out recorded"},
		{"early leave", model.DirectionOut, 14, 59, 59, model.NotificationWarning, "Early leave"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newStore(t)
			p := NewProcessor(NewService(st, nil, quiet()), st, nil, wib, nil, quiet())
			rec := recordAt(t, st, tc.dir, tc.h, tc.m, tc.s)

			require.NoError(t, p.Handle(context.Background(), recorded(t, rec)))

			feed, err := st.ListNotifications(context.Background(), "u-1")
			require.NoError(t, err)
			require.Len(t, feed, 1)
			assert.Equal(t, tc.wantType, feed[0].Type)
			assert.Equal(t, tc.wantTitle, feed[0].Title)
		})
	}
}

func TestAttendanceRecordedOffloadsPhoto(t *testing.T) {
	st := newStore(t)
	up := &fakeUploader{}
	p := NewProcessor(NewService(st, nil, quiet()), st, up, wib, nil, quiet())
	rec := recordAt(t, st, model.DirectionIn, 7, 0, 0)

	require.NoError(t, p.Handle(context.Background(), recorded(t, rec)))
	assert.Equal(t, 1, up.calls)
	got, err := st.GetAttendance(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/"+rec.ID+".jpg", got.Photo)

	// Redelivery does not upload an already offloaded photo.
	require.NoError(t, p.Handle(context.Background(), recorded(t, rec)))
	assert.Equal(t, 1, up.calls)
}

func TestUploadFailureKeepsInlinePhoto(t *testing.T) {
	st := newStore(t)
	p := NewProcessor(NewService(st, nil, quiet()), st, &fakeUploader{err: errors.New("503")}, wib, nil, quiet())
	rec := recordAt(t, st, model.DirectionIn, 7, 0, 0)

	require.NoError(t, p.Handle(context.Background(), recorded(t, rec)))
	got, err := st.GetAttendance(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Photo, got.Photo)
}

func TestPermissionDecided(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := NewProcessor(NewService(st, nil, quiet()), st, nil, wib, nil, quiet())

	req, err := st.CreatePermission(ctx, model.PermissionRequest{UserID: "u-2", Type: model.PermissionSick, DateStart: "2024-05-01", DateEnd: "2024-05-02"})
	require.NoError(t, err)
	_, err = st.UpdatePermissionStatus(ctx, req.ID, model.PermissionRejected)
	require.NoError(t, err)

	msg, err := queue.Encode(queue.TypePermissionDecided, queue.PermissionDecided{PermissionID: req.ID, UserID: "u-2", Status: "Rejected"})
	require.NoError(t, err)
	require.NoError(t, p.Handle(ctx, msg))

	feed, err := st.ListNotifications(ctx, "u-2")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, model.NotificationError, feed[0].Type)
	assert.Equal(t, "Your sick request for 2024-05-01 to 2024-05-02 was rejected.", feed[0].Message)
}

func TestHandleErrors(t *testing.T) {
	st := newStore(t)
	p := NewProcessor(NewService(st, nil, quiet()), st, nil, wib, nil, quiet())

	assert.NoError(t, p.Handle(context.Background(), queue.Message{Type: "something.else"}))
	assert.Error(t, p.Handle(context.Background(), queue.Message{Type: queue.TypeAttendanceRecorded, Body: []byte("{")}))

	msg, err := queue.Encode(queue.TypeAttendanceRecorded, queue.AttendanceRecorded{RecordID: "missing"})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Handle(context.Background(), msg), store.ErrNotFound)
}

func TestRunConsumesQueue(t *testing.T) {
	st := newStore(t)
	p := NewProcessor(NewService(st, nil, quiet()), st, nil, wib, nil, quiet())
	q := queue.NewInMemory(4)
	rec := recordAt(t, st, model.DirectionIn, 7, 0, 0)
	require.NoError(t, q.Publish(context.Background(), recorded(t, rec)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, q) }()

	require.Eventually(t, func() bool {
		feed, err := st.ListNotifications(context.Background(), "u-1")
		return err == nil && len(feed) == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("processor did not stop")
	}
}
