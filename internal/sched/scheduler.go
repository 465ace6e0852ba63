// Package sched re-logs the bridge in ahead of each trading session.
package sched

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ctpgate/logger"
)

const (
	loginRetries    = 10
	loginRetryDelay = 6 * time.Second
)

// Scheduler fires a login at fixed local times on weekdays. The gateway
// drops sessions outside trading hours, so the day and night sessions each
// get a fresh login shortly before they open.
type Scheduler struct {
	log   *logger.Entry
	loc   *time.Location
	times []time.Duration // offsets from local midnight
	login func() error
}

// New parses "HH:MM" login times in the given location.
func New(location string, loginTimes []string, login func() error, log *logger.Log) (*Scheduler, error) {
	loc, err := time.LoadLocation(location)
	if err != nil {
		return nil, fmt.Errorf("load schedule location: %w", err)
	}
	offsets := make([]time.Duration, 0, len(loginTimes))
	for _, lt := range loginTimes {
		t, err := time.Parse("15:04", lt)
		if err != nil {
			return nil, fmt.Errorf("parse login time %q: %w", lt, err)
		}
		offsets = append(offsets, time.Duration(t.Hour())*time.Hour+time.Duration(t.Minute())*time.Minute)
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("no login times configured")
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return &Scheduler{
		log:   log.WithComponent("scheduler"),
		loc:   loc,
		times: offsets,
		login: login,
	}, nil
}

// Run blocks until ctx is done, logging in at each scheduled weekday time.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.next(time.Now().In(s.loc))
		s.log.WithFields(logger.Fields{"at": next.Format("2006-01-02 15:04")}).Info("next scheduled login")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.loginWithRetry(ctx)
	}
}

// next returns the earliest weekday login instant after now.
func (s *Scheduler) next(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	for d := 0; d < 8; d++ {
		candidate := day.AddDate(0, 0, d)
		if wd := candidate.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for _, off := range s.times {
			at := candidate.Add(off)
			if at.After(now) {
				return at
			}
		}
	}
	// Unreachable with at least one configured time.
	return now.Add(24 * time.Hour)
}

func (s *Scheduler) loginWithRetry(ctx context.Context) {
	for attempt := 1; attempt <= loginRetries; attempt++ {
		err := s.login()
		if err == nil {
			s.log.Info("scheduled login succeeded")
			return
		}
		s.log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Warn("scheduled login failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(loginRetryDelay):
		}
	}
	s.log.Error("scheduled login exhausted retries")
}
