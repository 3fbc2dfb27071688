// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package scheduler runs the capture orchestration loop: one cooperative
// ticker that computes schedule windows, opens and closes sessions on window
// edges, and fans capture requests out to the enabled nodes.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
	"github.com/AMD-AGI/Skylapse/brain/pkg/exposure"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
	"github.com/AMD-AGI/Skylapse/brain/pkg/metrics"
	"github.com/AMD-AGI/Skylapse/brain/pkg/nodeclient"
	"github.com/AMD-AGI/Skylapse/brain/pkg/solar"
	"github.com/AMD-AGI/Skylapse/brain/pkg/taskqueue"
)

// NodeStatus is the advisory health view of one node, derived from the most
// recent interaction. Never used to gate captures.
type NodeStatus struct {
	NodeID    string     `json:"node_id"`
	Online    bool       `json:"online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// runState tracks one schedule between ticks. dateLocal is the local calendar
// date the current window was opened on; session ids are derived from it even
// when the window crosses midnight.
type runState struct {
	active    bool
	dateLocal time.Time
}

// Scheduler is the sole writer of sessions and captures. A single instance
// runs per Brain.
type Scheduler struct {
	store    *config.Store
	calc     *solar.Calculator
	sessions database.SessionFacadeInterface
	states   database.ScheduleStateFacadeInterface
	queue    taskqueue.Queue
	clock    Clock

	clients        map[string]*nodeclient.Client
	clientsVersion uint64

	// meters caches per-node light readings for the configured TTL so that a
	// multi-profile tick meters each node at most once.
	meters *gocache.Cache

	histories map[string]*exposure.History

	prev       map[string]*runState
	warnedDate map[string]string

	statusMu   sync.RWMutex
	nodeStatus map[string]*NodeStatus

	lastTick time.Time
}

func New(store *config.Store, sessions database.SessionFacadeInterface, states database.ScheduleStateFacadeInterface, queue taskqueue.Queue, clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock
	}
	return &Scheduler{
		store:      store,
		calc:       solar.NewCalculator(),
		sessions:   sessions,
		states:     states,
		queue:      queue,
		clock:      clock,
		clients:    map[string]*nodeclient.Client{},
		meters:     gocache.New(15*time.Second, time.Minute),
		histories:  map[string]*exposure.History{},
		prev:       map[string]*runState{},
		warnedDate: map[string]string{},
		nodeStatus: map[string]*NodeStatus{},
	}
}

// Run drives the loop until ctx is cancelled. On cancellation the in-flight
// tick gets the shutdown grace period to finish before its context is cut.
func (s *Scheduler) Run(ctx context.Context) error {
	doc := s.store.Snapshot()
	s.rebind(doc)

	if err := s.recover(ctx, doc); err != nil {
		return err
	}

	// tickCtx outlives ctx by the shutdown grace so a batch in flight at
	// SIGTERM can finish cleanly.
	tickCtx, cancelTicks := context.WithCancel(context.Background())
	defer cancelTicks()
	go func() {
		<-ctx.Done()
		grace := s.store.Snapshot().Scheduler.GetShutdownGrace()
		log.Infof("Scheduler: shutdown requested, granting %s grace to in-flight work", grace)
		select {
		case <-s.clock.After(grace):
		case <-tickCtx.Done():
		}
		cancelTicks()
	}()

	for {
		now := s.clock.Now()
		s.tick(tickCtx, now)

		select {
		case <-ctx.Done():
			log.Info("Scheduler: stopped")
			return nil
		case <-s.clock.After(s.tickInterval()):
		}
	}
}

// tickInterval is the smallest enabled capture interval, or the configured
// default when nothing is enabled.
func (s *Scheduler) tickInterval() time.Duration {
	doc := s.store.Snapshot()
	interval := time.Duration(0)
	for _, sched := range doc.EnabledSchedules() {
		if interval == 0 || sched.Interval() < interval {
			interval = sched.Interval()
		}
	}
	if interval <= 0 {
		interval = doc.Scheduler.GetDefaultTickInterval()
	}
	return interval
}

// rebind rebuilds node clients from a fresh config snapshot. Meter cache and
// exposure histories are kept; session continuity survives a config edit.
func (s *Scheduler) rebind(doc *config.Document) {
	version := s.store.Version()
	if version == s.clientsVersion && len(s.clients) > 0 {
		return
	}
	clients := make(map[string]*nodeclient.Client, len(doc.Nodes))
	for _, node := range doc.EnabledNodes() {
		clients[node.ID] = nodeclient.New(node, doc.Brain.Identity)
	}
	s.clients = clients
	s.clientsVersion = version
	log.Infof("Scheduler: bound %d node clients (config version %d)", len(clients), version)
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	metrics.SchedulerTicksTotal.Inc()

	doc := s.store.Snapshot()
	s.rebind(doc)

	tz, err := doc.Location.LoadTimezone()
	if err != nil {
		log.Errorf("Scheduler: unusable timezone %q: %v", doc.Location.Timezone, err)
		return
	}
	dateLocal := now.In(tz)
	interval := s.tickInterval()

	for id, sched := range doc.EnabledSchedules() {
		s.tickSchedule(ctx, doc, id, sched, dateLocal, now, interval)
	}

	s.lastTick = now
}

func (s *Scheduler) tickSchedule(ctx context.Context, doc *config.Document, id string, sched *config.Schedule, dateLocal, now time.Time, tickInterval time.Duration) {
	state := s.prev[id]
	if state == nil {
		state = &runState{}
		s.prev[id] = state
	}

	window, err := s.calc.Window(doc.Location, sched, dateLocal)
	if err != nil {
		if errors.Is(err, solar.ErrNoSolarEvent) {
			day := dateLocal.Format("2006-01-02")
			if s.warnedDate[id] != day {
				s.warnedDate[id] = day
				log.Warnf("Schedule %s: no solar event on %s, treating as disabled for the day", id, day)
			}
		} else {
			log.Errorf("Schedule %s: window computation failed: %v", id, err)
		}
		if state.active {
			s.leaveWindow(ctx, doc, id, sched, state, now)
		}
		return
	}

	inWindow := window.Contains(now)

	switch {
	case inWindow && !state.active:
		state.active = true
		state.dateLocal = dateLocal
		s.enterWindow(ctx, doc, id, sched, dateLocal, window.Start)

	case !inWindow && state.active:
		s.leaveWindow(ctx, doc, id, sched, state, now)

	case !inWindow && now.After(window.End) && s.missedWindow(window):
		// The whole window fell between two ticks. Open, capture once, close.
		log.Warnf("Schedule %s: window %s-%s fell between ticks, compressing into one",
			id, window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
		state.active = true
		state.dateLocal = dateLocal
		s.enterWindow(ctx, doc, id, sched, dateLocal, window.Start)
		s.runBatch(ctx, doc, id, sched, window, dateLocal, now, now.Add(tickInterval))
		s.leaveWindow(ctx, doc, id, sched, state, now)
		return
	}

	if !inWindow || !state.active {
		return
	}

	// Fire at most once per tick, aligned to the window start.
	elapsed := now.Sub(window.Start)
	if elapsed%sched.Interval() < tickInterval {
		s.runBatch(ctx, doc, id, sched, window, state.dateLocal, now, now.Add(tickInterval))
	}
}

// missedWindow reports whether the window lies entirely between the previous
// tick and now.
func (s *Scheduler) missedWindow(window solar.Window) bool {
	return !s.lastTick.IsZero() && window.Start.After(s.lastTick)
}

func (s *Scheduler) enterWindow(ctx context.Context, doc *config.Document, id string, sched *config.Schedule, dateLocal, startTime time.Time) {
	for _, profileID := range sched.Profiles {
		session, err := s.sessions.OpenSession(ctx, profileID, id, dateLocal, startTime)
		if err != nil {
			log.Errorf("Schedule %s: failed to open session for profile %s: %v", id, profileID, err)
			continue
		}
		metrics.SessionsOpenTotal.WithLabelValues(id).Inc()
		log.Infof("Schedule %s: session %s opened", id, session.ID)

		if sched.Smoothing != nil && sched.Smoothing.Enabled {
			if _, ok := s.histories[session.ID]; !ok {
				s.histories[session.ID] = exposure.NewHistory(sched.Smoothing.GetHistoryFrames())
			}
		}
	}
	if err := s.states.Set(ctx, id, dateLocal.Format("2006-01-02"), true); err != nil {
		log.Errorf("Schedule %s: failed to persist active flag: %v", id, err)
	}
}

func (s *Scheduler) leaveWindow(ctx context.Context, doc *config.Document, id string, sched *config.Schedule, state *runState, endTime time.Time) {
	for _, profileID := range sched.Profiles {
		sessionID := model.SessionID(profileID, id, state.dateLocal)
		s.closeAndEnqueue(ctx, doc, sessionID, profileID, id, endTime)
		delete(s.histories, sessionID)
	}
	state.active = false
	if err := s.states.Set(ctx, id, state.dateLocal.Format("2006-01-02"), false); err != nil {
		log.Errorf("Schedule %s: failed to persist active flag: %v", id, err)
	}
}

// closeAndEnqueue closes one session and, when it produced captures, enqueues
// its post-processing. hdr_merge precedes assemble_video so merged frames
// exist before encoding.
func (s *Scheduler) closeAndEnqueue(ctx context.Context, doc *config.Document, sessionID, profileID, scheduleID string, endTime time.Time) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		log.Errorf("Schedule %s: failed to load session %s at close: %v", scheduleID, sessionID, err)
		return
	}
	if session == nil {
		return
	}

	if err := s.sessions.CloseSession(ctx, sessionID, endTime, model.SessionStatusClosed); err != nil {
		log.Errorf("Schedule %s: failed to close session %s: %v", scheduleID, sessionID, err)
		return
	}
	log.Infof("Schedule %s: session %s closed with %d captures", scheduleID, sessionID, session.CaptureCount)

	if session.CaptureCount == 0 {
		return
	}

	if profile, ok := doc.Profiles[profileID]; ok {
		merged := profile.Merged(profile.ScheduleOverrides[scheduleID])
		if merged.HDREnabled {
			if _, err := s.queue.Enqueue(ctx, taskqueue.KindHDRMerge, sessionID,
				&taskqueue.HDRMergePayload{SessionID: sessionID}); err != nil {
				log.Errorf("Schedule %s: failed to enqueue hdr_merge for %s: %v", scheduleID, sessionID, err)
			}
		}
	}
	if _, err := s.queue.Enqueue(ctx, taskqueue.KindAssembleVideo, sessionID,
		&taskqueue.AssembleVideoPayload{SessionID: sessionID}); err != nil {
		log.Errorf("Schedule %s: failed to enqueue assembly for %s: %v", scheduleID, sessionID, err)
	}
}

// recover rebuilds per-schedule state from open sessions after a restart.
// Sessions whose window already ended are closed and queued for assembly;
// sessions still inside their window resume capturing on the next tick.
func (s *Scheduler) recover(ctx context.Context, doc *config.Document) error {
	active, err := s.sessions.ListActiveSessions(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	tz, err := doc.Location.LoadTimezone()
	if err != nil {
		return err
	}
	now := s.clock.Now()

	for _, session := range active {
		sched, ok := doc.Schedules[session.ScheduleID]
		if !ok || !sched.Enabled {
			log.Warnf("Recovery: session %s references unknown or disabled schedule %s, closing",
				session.ID, session.ScheduleID)
			s.closeAndEnqueue(ctx, doc, session.ID, session.ProfileID, session.ScheduleID, now)
			continue
		}

		dateLocal, err := time.ParseInLocation("2006-01-02", session.DateLocal, tz)
		if err != nil {
			log.Errorf("Recovery: session %s has malformed date %q, closing", session.ID, session.DateLocal)
			s.closeAndEnqueue(ctx, doc, session.ID, session.ProfileID, session.ScheduleID, now)
			continue
		}

		window, err := s.calc.Window(doc.Location, sched, dateLocal)
		if err != nil || now.After(window.End) {
			log.Infof("Recovery: session %s window already ended, closing", session.ID)
			s.closeAndEnqueue(ctx, doc, session.ID, session.ProfileID, session.ScheduleID, now)
			continue
		}

		log.Infof("Recovery: session %s still inside its window, resuming", session.ID)
		s.prev[session.ScheduleID] = &runState{active: true, dateLocal: dateLocal}
		if sched.Smoothing != nil && sched.Smoothing.Enabled {
			// Smoothing state is not persisted; the history restarts empty.
			s.histories[session.ID] = exposure.NewHistory(sched.Smoothing.GetHistoryFrames())
		}
	}
	return nil
}

// NodeStatuses returns the advisory per-node health view for the API surface.
func (s *Scheduler) NodeStatuses() []*NodeStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	out := make([]*NodeStatus, 0, len(s.nodeStatus))
	for _, st := range s.nodeStatus {
		copied := *st
		out = append(out, &copied)
	}
	return out
}

func (s *Scheduler) markNode(nodeID string, ok bool, errText string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.nodeStatus[nodeID]
	if st == nil {
		st = &NodeStatus{NodeID: nodeID}
		s.nodeStatus[nodeID] = st
	}
	st.Online = ok
	st.LastError = errText
	if ok {
		now := s.clock.Now()
		st.LastSeen = &now
	}
}
