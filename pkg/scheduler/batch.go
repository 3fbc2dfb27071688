// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
	"github.com/AMD-AGI/Skylapse/brain/pkg/exposure"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
	"github.com/AMD-AGI/Skylapse/brain/pkg/metrics"
	"github.com/AMD-AGI/Skylapse/brain/pkg/nodeclient"
	"github.com/AMD-AGI/Skylapse/brain/pkg/solar"
)

// runBatch fans one capture tick out to all enabled nodes. Concurrency is
// bounded by max_parallel_captures across nodes, while each node handles its
// profiles strictly in order so a camera never sees interleaved settings.
// The batch is cancelled at the deadline (the next tick instant): a new batch
// for the same schedule never overlaps a previous one.
func (s *Scheduler) runBatch(ctx context.Context, doc *config.Document, scheduleID string, sched *config.Schedule, window solar.Window, dateLocal, now, deadline time.Time) {
	nodes := doc.EnabledNodes()
	if len(nodes) == 0 {
		log.Warnf("Schedule %s: no enabled nodes, skipping capture tick", scheduleID)
		return
	}

	maxParallel := doc.Scheduler.MaxParallelCaptures
	if maxParallel <= 0 {
		maxParallel = len(nodes)
	}

	bctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	sun := exposure.SunInfo{
		ElevationDegrees:  solar.Elevation(doc.Location, now),
		MinutesFromAnchor: now.Sub(anchorOf(sched, window)).Minutes(),
	}

	start := time.Now()
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func(node *config.Node) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-bctx.Done():
				return
			}
			for _, profileID := range sched.Profiles {
				if bctx.Err() != nil {
					return
				}
				s.captureOne(bctx, doc, node, profileID, scheduleID, sched, sun, dateLocal, now)
			}
		}(node)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-bctx.Done():
		metrics.BatchOverrunsTotal.WithLabelValues(scheduleID).Inc()
		log.Warnf("Schedule %s: capture batch overran its tick deadline, cancelling stragglers", scheduleID)
		<-done
	}
	metrics.BatchDuration.WithLabelValues(scheduleID).Observe(time.Since(start).Seconds())
}

// anchorOf recovers the instant sun-position math is measured from: the solar
// event for solar_relative schedules, the window start otherwise.
func anchorOf(sched *config.Schedule, window solar.Window) time.Time {
	if sched.Type == config.ScheduleTypeSolarRelative {
		return window.Start.Add(-time.Duration(sched.OffsetMinutes) * time.Minute)
	}
	return window.Start
}

func (s *Scheduler) captureOne(ctx context.Context, doc *config.Document, node *config.Node, profileID, scheduleID string, sched *config.Schedule, sun exposure.SunInfo, dateLocal, now time.Time) {
	client := s.clients[node.ID]
	if client == nil {
		return
	}
	profile, ok := doc.Profiles[profileID]
	if !ok {
		log.Errorf("Schedule %s: profile %s not in config, skipping", scheduleID, profileID)
		return
	}

	var meter *exposure.Meter
	if exposure.NeedsMeter(profile, scheduleID) {
		meter = s.meterFor(ctx, doc, client)
	}

	sessionID := model.SessionID(profileID, scheduleID, dateLocal)
	settings := exposure.Resolve(profile, scheduleID, sched, sun, meter, s.histories[sessionID])

	var err error
	if settings.HDREnabled && len(settings.BracketExposures) > 0 {
		err = s.captureBracket(ctx, client, node, sessionID, &settings, now)
	} else {
		err = s.captureSingle(ctx, client, node, sessionID, &settings, now)
	}
	if err != nil {
		metrics.CapturesTotal.WithLabelValues(node.ID, scheduleID, "failure").Inc()
		metrics.NodeFailuresTotal.WithLabelValues(node.ID).Inc()
		s.markNode(node.ID, false, err.Error())
		log.Errorf("Schedule %s: capture on node %s profile %s failed: %v",
			scheduleID, node.ID, profileID, err)
		return
	}

	metrics.CapturesTotal.WithLabelValues(node.ID, scheduleID, "success").Inc()
	s.markNode(node.ID, true, "")
	if sched.Smoothing != nil && sched.Smoothing.Enabled {
		if hist := s.histories[sessionID]; hist != nil {
			hist.Push(settings)
		}
	}
}

func (s *Scheduler) captureSingle(ctx context.Context, client *nodeclient.Client, node *config.Node, sessionID string, settings *exposure.Settings, now time.Time) error {
	resp, err := client.Capture(ctx, captureRequestFrom(settings))
	if err != nil {
		return err
	}
	applied := resp.SettingsApplied
	if len(applied) == 0 {
		applied, _ = json.Marshal(settings)
	}
	if _, err := s.sessions.RecordCapture(ctx, sessionID, node.ID, resp.Filename, now, applied, nil); err != nil {
		log.Errorf("Failed to record capture %s for session %s: %v", resp.Filename, sessionID, err)
		return err
	}
	return nil
}

// captureBracket records every returned frame under one hdr group id; the
// worker later collapses the group to a merged frame.
func (s *Scheduler) captureBracket(ctx context.Context, client *nodeclient.Client, node *config.Node, sessionID string, settings *exposure.Settings, now time.Time) error {
	req := &nodeclient.BracketRequest{
		CaptureRequest:   *captureRequestFrom(settings),
		BracketExposures: settings.BracketExposures,
	}
	resp, err := client.CaptureBracket(ctx, req)
	if err != nil {
		return err
	}

	applied := resp.SettingsApplied
	if len(applied) == 0 {
		applied, _ = json.Marshal(settings)
	}
	groupID := uuid.New().String()
	for _, filename := range resp.Filenames {
		if _, err := s.sessions.RecordCapture(ctx, sessionID, node.ID, filename, now, applied,
			&database.BracketInfo{GroupID: groupID}); err != nil {
			log.Errorf("Failed to record bracket frame %s for session %s: %v", filename, sessionID, err)
			return err
		}
	}
	return nil
}

func captureRequestFrom(settings *exposure.Settings) *nodeclient.CaptureRequest {
	return &nodeclient.CaptureRequest{
		ISO:                  settings.ISO,
		ShutterSpeed:         settings.Shutter,
		ExposureCompensation: settings.ExposureCompensation,
		AwbMode:              settings.AwbMode,
		WBTemperature:        settings.WBTemperature,
		AeMeteringMode:       settings.MeteringMode,
		Profile:              settings.Profile,
		Schedule:             settings.Schedule,
	}
}

// meterFor returns a TTL-cached light reading for the node, metering at most
// once per node per TTL even across profiles and schedules.
func (s *Scheduler) meterFor(ctx context.Context, doc *config.Document, client *nodeclient.Client) *exposure.Meter {
	if cached, ok := s.meters.Get(client.NodeID()); ok {
		return cached.(*exposure.Meter)
	}

	reading, err := client.Meter(ctx)
	if err != nil {
		log.Warnf("Meter on node %s failed, resolving without a reading: %v", client.NodeID(), err)
		s.markNode(client.NodeID(), false, err.Error())
		return nil
	}
	s.markNode(client.NodeID(), true, "")

	meter := &exposure.Meter{
		Lux:              reading.Lux,
		SuggestedISO:     reading.SuggestedISO,
		SuggestedShutter: reading.SuggestedShutter,
	}
	s.meters.Set(client.NodeID(), meter, doc.Scheduler.GetMeterTTL())
	return meter
}
