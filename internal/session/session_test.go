package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/geofence"
	"schoolattendance/internal/model"
)

var (
	school = geofence.Fence{Center: geofence.Point{Lat: -6.175392, Lng: 106.827153}, Radius: 100}
	inside = geofence.Fix{Point: geofence.Point{Lat: -6.175392, Lng: 106.827153}, Accuracy: 8}
	far    = geofence.Fix{Point: geofence.Point{Lat: -6.1799, Lng: 106.827153}, Accuracy: 8}
	siti   = model.User{ID: "u-1", Name: "Siti Aminah", Role: model.RoleTeacher}
	fixed  = func() time.Time { return time.Date(2024, 5, 1, 7, 10, 0, 0, time.UTC) }
)

type recorderFunc func(ctx context.Context, u model.User, d model.AttendanceRecord) (model.AttendanceRecord, error)

func (f recorderFunc) Record(ctx context.Context, u model.User, d model.AttendanceRecord) (model.AttendanceRecord, error) {
	return f(ctx, u, d)
}

func echoRecorder() Recorder {
	return recorderFunc(func(_ context.Context, _ model.User, d model.AttendanceRecord) (model.AttendanceRecord, error) {
		d.ID = "rec-1"
		return d, nil
	})
}

func TestOptionsReflectCompletedDirections(t *testing.T) {
	s := New(siti, school, nil, fixed)
	assert.Equal(t, []Option{{model.DirectionIn, false}, {model.DirectionOut, false}}, s.Options())

	s = New(siti, school, []model.Direction{model.DirectionIn}, fixed)
	assert.Equal(t, []Option{{model.DirectionIn, true}, {model.DirectionOut, false}}, s.Options())
	assert.ErrorIs(t, s.Choose(model.DirectionIn), ErrDirectionCompleted)
	assert.Equal(t, SelectDirection, s.State())
	assert.NoError(t, s.Choose(model.DirectionOut))
}

func TestHappyPath(t *testing.T) {
	s := New(siti, school, nil, fixed)
	require.NoError(t, s.Choose(model.DirectionIn))
	assert.Equal(t, VerifyLocation, s.State())

	assert.ErrorIs(t, s.ConfirmLocation(), ErrNoFix)

	ev, err := s.Observe(far)
	require.NoError(t, err)
	assert.False(t, ev.InRange)
	assert.ErrorIs(t, s.ConfirmLocation(), ErrOutOfRange)
	assert.Equal(t, VerifyLocation, s.State())

	first, err := s.Observe(inside)
	require.NoError(t, err)
	again, err := s.Observe(inside)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.True(t, again.InRange)

	require.NoError(t, s.ConfirmLocation())
	assert.Equal(t, CapturePhoto, s.State())

	_, err = s.Submit(context.Background(), echoRecorder())
	assert.ErrorIs(t, err, ErrNoPhoto)

	require.NoError(t, s.AttachPhoto("data:image/jpeg;base64,AAAA"))
	require.NoError(t, s.Retake())
	assert.False(t, s.HasPhoto())
	require.NoError(t, s.AttachPhoto("data:image/jpeg;base64,BBBB"))

	rec, err := s.Submit(context.Background(), echoRecorder())
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, model.DirectionIn, rec.Type)
	assert.Equal(t, "Siti Aminah", rec.UserName)
	assert.Equal(t, fixed(), rec.Timestamp)
	assert.Equal(t, "data:image/jpeg;base64,BBBB", rec.Photo)
	assert.Equal(t, inside.Lat, rec.Location.Lat)
	assert.Equal(t, Submitted, s.State())

	assert.ErrorIs(t, s.Choose(model.DirectionOut), ErrSessionClosed)
	assert.ErrorIs(t, s.Retake(), ErrSessionClosed)
	_, err = s.Submit(context.Background(), echoRecorder())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestBackReturnsToSelectDirection(t *testing.T) {
	s := New(siti, school, nil, fixed)
	assert.ErrorIs(t, s.Back(), ErrInvalidTransition)
	require.NoError(t, s.Choose(model.DirectionIn))
	_, err := s.Observe(inside)
	require.NoError(t, err)
	require.NoError(t, s.Back())
	assert.Equal(t, SelectDirection, s.State())
	_, ok := s.LastEvaluation()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Choose("sideways"), ErrInvalidDirection)
}

func TestOperationsOutOfOrder(t *testing.T) {
	s := New(siti, school, nil, fixed)
	_, err := s.Observe(inside)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, s.AttachPhoto("x"), ErrInvalidTransition)
	assert.ErrorIs(t, s.ConfirmLocation(), ErrInvalidTransition)
}

func TestFailedRecordKeepsSessionOpen(t *testing.T) {
	s := New(siti, school, nil, fixed)
	require.NoError(t, s.Choose(model.DirectionIn))
	_, err := s.Observe(inside)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmLocation())
	require.NoError(t, s.AttachPhoto("data:image/jpeg;base64,AAAA"))

	boom := errors.New("store down")
	_, err = s.Submit(context.Background(), recorderFunc(func(context.Context, model.User, model.AttendanceRecord) (model.AttendanceRecord, error) {
		return model.AttendanceRecord{}, boom
	}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, CapturePhoto, s.State())
}

// -------- Track --------

type fakeSub struct {
	ch     chan Update
	closed atomic.Int32
}

func (f *fakeSub) Updates() <-chan Update { return f.ch }
func (f *fakeSub) Close() error {
	f.closed.Add(1)
	return nil
}

type fakePositioner struct{ sub *fakeSub }

func (p fakePositioner) Watch(context.Context) (Subscription, error) { return p.sub, nil }

func newTracking(t *testing.T) (*Session, *fakeSub) {
	t.Helper()
	s := New(siti, school, nil, fixed)
	require.NoError(t, s.Choose(model.DirectionIn))
	return s, &fakeSub{ch: make(chan Update, 8)}
}

func TestTrackStopsOnPositionError(t *testing.T) {
	s, sub := newTracking(t)
	sub.ch <- Update{Fix: far}
	sub.ch <- Update{Err: &geofence.PositionError{Kind: geofence.Timeout}}

	var evals []geofence.Evaluation
	err := s.Track(context.Background(), fakePositioner{sub}, func(ev geofence.Evaluation) { evals = append(evals, ev) })

	var pe *geofence.PositionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, geofence.Timeout, pe.Kind)
	assert.Len(t, evals, 1)
	assert.EqualValues(t, 1, sub.closed.Load())
}

func TestTrackStopsOnCancel(t *testing.T) {
	s, sub := newTracking(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Track(ctx, fakePositioner{sub}, nil) }()

	sub.ch <- Update{Fix: inside}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Track did not return")
	}
	assert.EqualValues(t, 1, sub.closed.Load())
}

func TestTrackStopsWhenLeavingVerifyLocation(t *testing.T) {
	s, sub := newTracking(t)
	seen := make(chan geofence.Evaluation, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Track(context.Background(), fakePositioner{sub}, func(ev geofence.Evaluation) {
			select {
			case seen <- ev:
			default:
			}
		})
	}()

	sub.ch <- Update{Fix: inside}
	select {
	case ev := <-seen:
		assert.True(t, ev.InRange)
	case <-time.After(3 * time.Second):
		t.Fatal("no evaluation delivered")
	}
	require.NoError(t, s.ConfirmLocation())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Track did not return")
	}
	assert.EqualValues(t, 1, sub.closed.Load())
}

func TestTrackRequiresVerifyLocation(t *testing.T) {
	s := New(siti, school, nil, fixed)
	sub := &fakeSub{ch: make(chan Update)}
	assert.ErrorIs(t, s.Track(context.Background(), fakePositioner{sub}, nil), ErrInvalidTransition)
	assert.Zero(t, sub.closed.Load())
}

// -------- Capture --------

type fakeStream struct {
	frame  Frame
	err    error
	closed *atomic.Int32
}

func (f fakeStream) Frame(context.Context) (Frame, error) { return f.frame, f.err }
func (f fakeStream) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeCamera struct {
	openErr error
	stream  fakeStream
}

func (c fakeCamera) Open(context.Context) (Stream, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.stream, nil
}

func pngFrame(t *testing.T) Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return Frame{Data: buf.Bytes(), MIME: "image/png"}
}

func atCapture(t *testing.T) *Session {
	t.Helper()
	s := New(siti, school, nil, fixed)
	require.NoError(t, s.Choose(model.DirectionIn))
	_, err := s.Observe(inside)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmLocation())
	return s
}

func TestCaptureClosesStream(t *testing.T) {
	var closed atomic.Int32

	s := atCapture(t)
	cam := fakeCamera{stream: fakeStream{frame: pngFrame(t), closed: &closed}}
	require.NoError(t, s.Capture(context.Background(), cam, true))
	assert.True(t, s.HasPhoto())
	assert.EqualValues(t, 1, closed.Load())

	snap := s.Snapshot()
	assert.Contains(t, snap.Photo, "data:image/jpeg;base64,")

	// Frame failure still closes the stream.
	s = atCapture(t)
	cam = fakeCamera{stream: fakeStream{err: errors.New("device lost"), closed: &closed}}
	err := s.Capture(context.Background(), cam, false)
	var ce *CameraError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CameraUnavailable, ce.Kind)
	assert.True(t, ce.Retryable())
	assert.EqualValues(t, 2, closed.Load())
	assert.False(t, s.HasPhoto())
}

func TestCaptureCameraDenied(t *testing.T) {
	s := atCapture(t)
	err := s.Capture(context.Background(), fakeCamera{openErr: &CameraError{Kind: CameraDenied}}, false)
	var ce *CameraError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CameraDenied, ce.Kind)
	assert.NotEqual(t, (&CameraError{Kind: CameraUnavailable}).Error(), ce.Error())
}

func TestCaptureWithoutStampKeepsFrame(t *testing.T) {
	var closed atomic.Int32
	s := atCapture(t)
	cam := fakeCamera{stream: fakeStream{frame: Frame{Data: []byte{1, 2, 3}}, closed: &closed}}
	require.NoError(t, s.Capture(context.Background(), cam, false))
	assert.Equal(t, "data:image/jpeg;base64,AQID", s.Snapshot().Photo)
}

// -------- Snapshot and stores --------

func TestSnapshotRoundTrip(t *testing.T) {
	s := New(siti, school, []model.Direction{model.DirectionOut}, fixed)
	require.NoError(t, s.Choose(model.DirectionIn))
	_, err := s.Observe(inside)
	require.NoError(t, err)

	restored := Restore(s.Snapshot(), fixed)
	assert.Equal(t, s.ID(), restored.ID())
	assert.Equal(t, VerifyLocation, restored.State())
	assert.Equal(t, s.Options(), restored.Options())
	require.NoError(t, restored.ConfirmLocation())
	require.NoError(t, restored.AttachPhoto("data:image/jpeg;base64,AAAA"))
	rec, err := restored.Submit(context.Background(), echoRecorder())
	require.NoError(t, err)
	assert.Equal(t, inside.Lng, rec.Location.Lng)
}

func TestMemoryStoreExpires(t *testing.T) {
	now := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	m := NewMemoryStore(time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	snap := New(siti, school, nil, fixed).Snapshot()
	require.NoError(t, m.Save(ctx, snap))
	got, err := m.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)

	now = now.Add(2 * time.Minute)
	_, err = m.Load(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Save(ctx, snap))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	st := NewRedisStore(client, "", 30*time.Minute)
	s := New(siti, school, nil, fixed)
	require.NoError(t, s.Choose(model.DirectionOut))
	require.NoError(t, st.Save(ctx, s.Snapshot()))

	got, err := st.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, VerifyLocation, got.State)
	assert.Equal(t, model.DirectionOut, got.Direction)
	assert.Equal(t, school, got.Fence)

	mr.FastForward(31 * time.Minute)
	_, err = st.Load(ctx, s.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Save(ctx, s.Snapshot()))
	require.NoError(t, st.Delete(ctx, s.ID()))
	_, err = st.Load(ctx, s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentObserve(t *testing.T) {
	s, _ := newTracking(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Observe(inside)
		}()
	}
	wg.Wait()
	ev, ok := s.LastEvaluation()
	require.True(t, ok)
	assert.True(t, ev.InRange)
}
