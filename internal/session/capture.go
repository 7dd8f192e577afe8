package session

import (
	"context"
	"encoding/base64"
	"errors"

	"schoolattendance/internal/photo"
)

// CameraErrorKind says why a frame could not be captured.
type CameraErrorKind int

const (
	CameraDenied CameraErrorKind = iota + 1
	CameraUnavailable
)

// CameraError is a camera failure. Both kinds are retryable by the user.
type CameraError struct {
	Kind CameraErrorKind
	Err  error
}

func (e *CameraError) Error() string {
	switch e.Kind {
	case CameraDenied:
		return "Camera permission was denied. Allow camera access and try again."
	default:
		return "No camera is available. Check that the device has a working camera and try again."
	}
}

func (e *CameraError) Unwrap() error { return e.Err }

// Retryable always holds; no camera failure is fatal to the session.
func (e *CameraError) Retryable() bool { return true }

// Frame is one still image.
type Frame struct {
	Data []byte
	MIME string
}

// Stream is a live camera stream. Close must stop the device.
type Stream interface {
	Frame(ctx context.Context) (Frame, error)
	Close() error
}

// Camera opens streams.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Capture grabs one frame from cam and attaches it. With stamp set the user's
// name, the direction, the time and the last coordinate are burnt into the
// image. The stream is closed on every path.
func (s *Session) Capture(ctx context.Context, cam Camera, stamp bool) error {
	s.mu.Lock()
	err := s.require(CapturePhoto)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	stream, err := cam.Open(ctx)
	if err != nil {
		return asCameraError(err)
	}
	defer stream.Close()

	frame, err := stream.Frame(ctx)
	if err != nil {
		return asCameraError(err)
	}
	if len(frame.Data) == 0 {
		return &CameraError{Kind: CameraUnavailable, Err: errors.New("empty frame")}
	}
	mime := frame.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	uri := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(frame.Data)

	if stamp {
		return s.AttachStamped(uri, 0)
	}
	return s.AttachPhoto(uri)
}

// AttachStamped burns the session caption into dataURI and attaches the
// result. maxBytes bounds the decoded input; zero disables the check.
func (s *Session) AttachStamped(dataURI string, maxBytes int) error {
	s.mu.Lock()
	err := s.require(CapturePhoto)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	stamped, err := photo.Stamp(dataURI, s.caption(), maxBytes)
	if err != nil {
		return err
	}
	return s.AttachPhoto(stamped)
}

func (s *Session) caption() photo.Caption {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := photo.Caption{
		Name:      s.user.Name,
		Direction: string(s.direction),
		Time:      s.clock(),
	}
	if s.lastFix != nil {
		c.Lat, c.Lng = s.lastFix.Lat, s.lastFix.Lng
	}
	return c
}

func asCameraError(err error) error {
	var ce *CameraError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &CameraError{Kind: CameraUnavailable, Err: err}
}
