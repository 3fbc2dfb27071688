// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package worker drains the job queue: it assembles timelapse videos from
// closed sessions and merges HDR bracket groups. Workers are the sole writers
// of generated_videos.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AMD-AGI/Skylapse/brain/pkg/assembly"
	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database"
	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
	"github.com/AMD-AGI/Skylapse/brain/pkg/metrics"
	"github.com/AMD-AGI/Skylapse/brain/pkg/nodeclient"
	"github.com/AMD-AGI/Skylapse/brain/pkg/taskqueue"
)

const pollInterval = 2 * time.Second

// Pool runs the configured number of queue workers until the context ends.
type Pool struct {
	store    *config.Store
	queue    taskqueue.Queue
	sessions database.SessionFacadeInterface
	videos   database.VideoFacadeInterface
}

func NewPool(store *config.Store, queue taskqueue.Queue, sessions database.SessionFacadeInterface, videos database.VideoFacadeInterface) *Pool {
	return &Pool{store: store, queue: queue, sessions: sessions, videos: videos}
}

func (p *Pool) Run(ctx context.Context) error {
	count := p.store.Snapshot().Queue.GetWorkerCount()
	log.Infof("Worker pool: starting %d workers", count)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		w := &Worker{
			id:       fmt.Sprintf("worker-%d-%s", i, uuid.New().String()[:8]),
			store:    p.store,
			queue:    p.queue,
			sessions: p.sessions,
			videos:   p.videos,
		}
		g.Go(func() error {
			return w.run(gctx)
		})
	}
	return g.Wait()
}

// Worker claims and processes one job at a time.
type Worker struct {
	id       string
	store    *config.Store
	queue    taskqueue.Queue
	sessions database.SessionFacadeInterface
	videos   database.VideoFacadeInterface

	clients        map[string]*nodeclient.Client
	clientsVersion uint64
}

func (w *Worker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			log.Infof("Worker %s: stopped", w.id)
			return nil
		default:
		}

		job, err := w.queue.Claim(ctx, w.id)
		if err != nil {
			log.Errorf("Worker %s: claim failed: %v", w.id, err)
			w.sleep(ctx, pollInterval)
			continue
		}
		if job == nil {
			w.sleep(ctx, pollInterval)
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (w *Worker) process(ctx context.Context, job *taskqueue.Job) {
	log.Infof("Worker %s: processing job %s (%s, session %s, attempt %d)",
		w.id, job.ID, job.Kind, job.SessionID, job.Attempts+1)

	var err error
	switch job.Kind {
	case taskqueue.KindAssembleVideo:
		err = w.assembleVideo(ctx, job)
	case taskqueue.KindHDRMerge:
		err = w.mergeHDR(ctx, job)
	default:
		err = terminal(fmt.Errorf("unknown job kind %q", job.Kind))
	}

	if err == nil {
		if ackErr := w.queue.Ack(ctx, job.ID); ackErr != nil {
			log.Errorf("Worker %s: ack of job %s failed: %v", w.id, job.ID, ackErr)
		}
		metrics.JobsProcessedTotal.WithLabelValues(job.Kind, "success").Inc()
		return
	}

	retryable := isRetryable(err)
	metrics.JobsProcessedTotal.WithLabelValues(job.Kind, "failure").Inc()
	log.Errorf("Worker %s: job %s failed (retryable=%v): %v", w.id, job.ID, retryable, err)
	if nackErr := w.queue.Nack(ctx, job.ID, err.Error(), retryable); nackErr != nil {
		log.Errorf("Worker %s: nack of job %s failed: %v", w.id, job.ID, nackErr)
	}
}

// terminalError wraps a failure that retrying cannot fix.
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func terminal(err error) error { return &terminalError{err: err} }

// isRetryable maps failure classes to queue semantics. Missing frames are
// transient (a node may still be uploading) and transport failures heal, so
// both retry. Encoder rejects and unwritable outputs dead-letter.
func isRetryable(err error) bool {
	var term *terminalError
	var encoder *assembly.EncoderError
	var output *assembly.OutputError
	if errors.As(err, &term) || errors.As(err, &encoder) || errors.As(err, &output) {
		return false
	}
	return true
}

func (w *Worker) assembleVideo(ctx context.Context, job *taskqueue.Job) error {
	var payload taskqueue.AssembleVideoPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return terminal(fmt.Errorf("malformed payload: %w", err))
	}

	session, err := w.sessions.GetSession(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return terminal(fmt.Errorf("session %s does not exist", payload.SessionID))
	}

	captures, err := w.sessions.ListSessionCaptures(ctx, session.ID)
	if err != nil {
		return err
	}
	frames := selectFrames(captures)
	if len(frames) == 0 {
		return terminal(fmt.Errorf("session %s has no usable frames", session.ID))
	}

	doc := w.store.Snapshot()
	inputs, err := w.localize(ctx, doc, session, frames)
	if err != nil {
		return err
	}

	quality := doc.Assembly.GetQuality()
	frameRate := doc.Assembly.GetFrameRate()
	hash := inputHash(frames, quality, frameRate)

	if existing, err := w.videos.FindBySessionAndHash(ctx, session.ID, hash); err != nil {
		return err
	} else if existing != nil {
		log.Infof("Worker %s: session %s already assembled as %s, skipping", w.id, session.ID, existing.OutputPath)
		return nil
	}

	driver := assembly.NewDriver(doc.Assembly.GetFFmpegPath())
	start := time.Now()
	result, err := driver.Assemble(ctx, &assembly.Request{
		JobID:     job.ID,
		SessionID: session.ID,
		Inputs:    inputs,
		FrameRate: frameRate,
		Quality:   quality,
		InputHash: hash,
		OutputDir: doc.Storage.VideoRoot,
		LogDir:    doc.Storage.WorkerLogDir,
	})
	if err != nil {
		if !isRetryable(err) {
			w.recordFailedVideo(ctx, session.ID, hash, quality, err)
		}
		return err
	}
	metrics.EncodeDuration.WithLabelValues(quality).Observe(time.Since(start).Seconds())

	video := &model.GeneratedVideo{
		SessionID:     session.ID,
		OutputPath:    result.OutputPath,
		ThumbnailPath: result.ThumbnailPath,
		FrameCount:    result.FrameCount,
		DurationMS:    result.DurationMS,
		SizeBytes:     result.SizeBytes,
		QualityPreset: result.Quality,
		InputHash:     hash,
		Status:        model.VideoStatusDone,
	}
	if err := w.videos.RecordVideo(ctx, video); err != nil {
		return err
	}
	log.Infof("Worker %s: assembled %s (%d frames, %d ms, %d bytes)",
		w.id, result.OutputPath, result.FrameCount, result.DurationMS, result.SizeBytes)
	return nil
}

func (w *Worker) recordFailedVideo(ctx context.Context, sessionID, hash, quality string, cause error) {
	video := &model.GeneratedVideo{
		SessionID:     sessionID,
		QualityPreset: quality,
		InputHash:     hash,
		Status:        model.VideoStatusFailed,
		Error:         cause.Error(),
	}
	if err := w.videos.RecordVideo(ctx, video); err != nil {
		log.Errorf("Worker %s: failed to record failed video for %s: %v", w.id, sessionID, err)
	}
}

// mergeHDR collapses every unresolved bracket group of the session into a
// single fused frame and links the members to it.
func (w *Worker) mergeHDR(ctx context.Context, job *taskqueue.Job) error {
	var payload taskqueue.HDRMergePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return terminal(fmt.Errorf("malformed payload: %w", err))
	}

	session, err := w.sessions.GetSession(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return terminal(fmt.Errorf("session %s does not exist", payload.SessionID))
	}

	captures, err := w.sessions.ListSessionCaptures(ctx, session.ID)
	if err != nil {
		return err
	}

	groups := map[string][]*model.Capture{}
	for _, c := range captures {
		if !c.IsBracketMember || c.HDRResultCaptureID != nil {
			continue
		}
		if payload.HDRGroupID != "" && c.HDRGroupID != payload.HDRGroupID {
			continue
		}
		groups[c.HDRGroupID] = append(groups[c.HDRGroupID], c)
	}
	if len(groups) == 0 {
		log.Infof("Worker %s: session %s has no unresolved bracket groups", w.id, session.ID)
		return nil
	}

	doc := w.store.Snapshot()
	driver := assembly.NewDriver(doc.Assembly.GetFFmpegPath())

	for groupID, members := range groups {
		if err := w.mergeGroup(ctx, doc, driver, job, session, groupID, members); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) mergeGroup(ctx context.Context, doc *config.Document, driver *assembly.Driver, job *taskqueue.Job, session *model.Session, groupID string, members []*model.Capture) error {
	inputs, err := w.localize(ctx, doc, session, members)
	if err != nil {
		return err
	}

	mergedName := fmt.Sprintf("hdr_%s.jpg", groupID)
	mergedPath := filepath.Join(doc.Storage.ImageRoot, session.ID, mergedName)
	if err := driver.MergeBracket(ctx, job.ID, inputs, mergedPath, doc.Storage.WorkerLogDir); err != nil {
		return err
	}

	// Anchor the merged frame at the middle exposure so ordering is stable.
	mid := members[len(members)/2]
	merged, err := w.sessions.RecordCapture(ctx, session.ID, mid.NodeID, mergedName, mid.Timestamp, mid.SettingsApplied, nil)
	if err != nil {
		return err
	}
	if err := w.sessions.SetCaptureHDRResult(ctx, groupID, merged.ID); err != nil {
		return err
	}
	log.Infof("Worker %s: merged bracket group %s of %s into %s", w.id, groupID, session.ID, mergedName)
	return nil
}

// selectFrames picks assembly inputs in capture order: plain frames and
// merged HDR results. Unmerged brackets contribute only their middle
// exposure, so a failed merge degrades rather than flickers.
func selectFrames(captures []*model.Capture) []*model.Capture {
	grouped := map[string][]*model.Capture{}
	var out []*model.Capture
	for _, c := range captures {
		if !c.IsBracketMember {
			out = append(out, c)
			continue
		}
		if c.HDRResultCaptureID != nil {
			continue
		}
		grouped[c.HDRGroupID] = append(grouped[c.HDRGroupID], c)
	}
	for _, members := range grouped {
		out = append(out, members[len(members)/2])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// localize ensures every frame exists under image_root/{session_id}/, pulling
// absent files from the capturing node.
func (w *Worker) localize(ctx context.Context, doc *config.Document, session *model.Session, frames []*model.Capture) ([]string, error) {
	w.rebind(doc)

	dir := filepath.Join(doc.Storage.ImageRoot, session.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	inputs := make([]string, 0, len(frames))
	for _, frame := range frames {
		localPath := filepath.Join(dir, frame.Filename)
		if _, err := os.Stat(localPath); err == nil {
			inputs = append(inputs, localPath)
			continue
		}

		client := w.clients[frame.NodeID]
		if client == nil {
			return nil, terminal(fmt.Errorf("frame %s references unknown node %s", frame.Filename, frame.NodeID))
		}
		if err := client.FetchImage(ctx, session.ProfileID, frame.Filename, localPath); err != nil {
			return nil, fmt.Errorf("fetch of %s from node %s failed: %w", frame.Filename, frame.NodeID, err)
		}
		inputs = append(inputs, localPath)
	}
	return inputs, nil
}

func (w *Worker) rebind(doc *config.Document) {
	version := w.store.Version()
	if version == w.clientsVersion && len(w.clients) > 0 {
		return
	}
	clients := make(map[string]*nodeclient.Client, len(doc.Nodes))
	for _, node := range doc.Nodes {
		clients[node.ID] = nodeclient.New(node, doc.Brain.Identity)
	}
	w.clients = clients
	w.clientsVersion = version
}

// inputHash identifies one exact encode: the ordered frame list plus the
// encode parameters.
func inputHash(frames []*model.Capture, quality string, frameRate int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s/%d\n", quality, frameRate)
	for _, f := range frames {
		fmt.Fprintf(h, "%s\n", f.Filename)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
