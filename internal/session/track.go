package session

import (
	"context"
	"errors"

	"schoolattendance/internal/geofence"
)

// ErrWatchEnded is returned by Track when the positioner stops delivering fixes.
var ErrWatchEnded = errors.New("position watch ended")

// Update is one delivery of a position watch: a fix or an error.
type Update struct {
	Fix geofence.Fix
	Err error
}

// Subscription is a live position watch. Close must release the underlying
// positioning resource and is called exactly once by Track.
type Subscription interface {
	Updates() <-chan Update
	Close() error
}

// Positioner opens high-accuracy position watches.
type Positioner interface {
	Watch(ctx context.Context) (Subscription, error)
}

// Track feeds every fix from p into Observe and reports each evaluation to
// onEval. It returns nil once the session leaves VerifyLocation, ctx.Err() on
// cancellation, and a *geofence.PositionError when positioning fails. The
// subscription is closed on every path.
func (s *Session) Track(ctx context.Context, p Positioner, onEval func(geofence.Evaluation)) error {
	leave := s.leaving()
	if leave == nil {
		s.mu.Lock()
		err := s.require(VerifyLocation)
		s.mu.Unlock()
		if err == nil {
			err = ErrInvalidTransition
		}
		return err
	}

	sub, err := p.Watch(ctx)
	if err != nil {
		return asPositionError(err)
	}
	defer sub.Close()

	updates := sub.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-leave:
			return nil
		case u, ok := <-updates:
			if !ok {
				return ErrWatchEnded
			}
			if u.Err != nil {
				return asPositionError(u.Err)
			}
			ev, err := s.Observe(u.Fix)
			if err != nil {
				if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrSessionClosed) {
					return nil
				}
				return err
			}
			if onEval != nil {
				onEval(ev)
			}
		}
	}
}

func asPositionError(err error) error {
	var pe *geofence.PositionError
	if errors.As(err, &pe) {
		return pe
	}
	return err
}
