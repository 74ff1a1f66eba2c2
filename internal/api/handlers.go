package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yangwenmai/retromag/internal/gateway"
	"github.com/yangwenmai/retromag/internal/model"
	"github.com/yangwenmai/retromag/internal/orchestrator"
	"github.com/yangwenmai/retromag/internal/session"
	"github.com/yangwenmai/retromag/internal/worker"
)

// bindJSON decodes the body into v. An empty body is accepted when
// optional is set.
func bindJSON(c *gin.Context, v any, optional bool) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(c, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return false
	}
	return true
}

func parseQuality(q model.Quality) (model.Quality, error) {
	switch q {
	case "":
		return model.QualityStandard, nil
	case model.QualityStandard, model.QualityHigh:
		return q, nil
	}
	return "", fmt.Errorf("%w: quality must be standard or high", errBadRequest)
}

// idle fails the request with 409 while generation jobs are queued or
// running against the current draft.
func (s *Server) idle(c *gin.Context) bool {
	if s.jobs.Busy() {
		s.respondErr(c, session.ErrGenerationActive)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// POST /api/magazines
// ---------------------------------------------------------------------------

type newMagazineRequest struct {
	Topic string             `json:"topic"`
	Type  model.CreationType `json:"type"`
	Deep  bool               `json:"deep"`
}

func (s *Server) handleNewMagazine(c *gin.Context) {
	var req newMagazineRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if req.Topic == "" {
		writeError(c, http.StatusBadRequest, "empty_topic", "topic is required")
		return
	}
	if !s.idle(c) {
		return
	}
	if _, err := s.sess.NewMagazine(c.Request.Context(), gateway.PlanInput{
		Topic: req.Topic, Type: req.Type, Deep: req.Deep,
	}); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.sess.State())
}

// ---------------------------------------------------------------------------
// Draft
// ---------------------------------------------------------------------------

func (s *Server) handleGetMagazine(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.State())
}

func (s *Server) handleResume(c *gin.Context) {
	if !s.idle(c) {
		return
	}
	if _, err := s.sess.Resume(c.Request.Context()); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sess.State())
}

func (s *Server) handleDiscard(c *gin.Context) {
	if !s.idle(c) {
		return
	}
	if err := s.sess.Discard(c.Request.Context()); err != nil {
		s.respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type viewRequest struct {
	View session.View `json:"view"`
}

func (s *Server) handleSetView(c *gin.Context) {
	var req viewRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if err := s.sess.SetView(req.View); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": s.sess.View()})
}

// ---------------------------------------------------------------------------
// Edits
// ---------------------------------------------------------------------------

type fieldRequest struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

func (s *Server) handleEditField(c *gin.Context) {
	s.editWith(c, s.sess.EditField)
}

func (s *Server) handleEditPrompt(c *gin.Context) {
	s.editWith(c, s.sess.EditPrompt)
}

func (s *Server) editWith(c *gin.Context, apply func(path, value string) (bool, error)) {
	var req fieldRequest
	if !bindJSON(c, &req, false) {
		return
	}
	changed, err := apply(req.Path, req.Value)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "changed": changed})
}

func (s *Server) handleFieldHistory(c *gin.Context) {
	h, err := s.sess.FieldHistory(c.Query("path"))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleUndo(c *gin.Context) {
	s.step(c, s.sess.Undo)
}

func (s *Server) handleRedo(c *gin.Context) {
	s.step(c, s.sess.Redo)
}

func (s *Server) step(c *gin.Context, fn func(path string) (string, bool, error)) {
	var req pathRequest
	if !bindJSON(c, &req, true) {
		return
	}
	path, applied, err := fn(req.Path)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "applied": applied})
}

func (s *Server) handleResetPrompt(c *gin.Context) {
	var req pathRequest
	if !bindJSON(c, &req, false) {
		return
	}
	changed, err := s.sess.ResetPrompt(req.Path)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "changed": changed})
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

type generateRequest struct {
	Quality model.Quality `json:"quality"`
}

func (s *Server) handleGenerateUnit(c *gin.Context) {
	unit, err := model.ParseUnitKey(c.Param("unit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "unknown_unit", err.Error())
		return
	}
	var req generateRequest
	if !bindJSON(c, &req, true) {
		return
	}
	quality, err := parseQuality(req.Quality)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	if err := s.sess.CheckUnit(unit); err != nil {
		s.respondErr(c, err)
		return
	}
	if err := s.jobs.Submit(worker.Job{
		Unit: unit,
		Name: "generate " + string(unit),
		Run: func(ctx context.Context) error {
			return s.sess.GenerateUnit(ctx, unit, quality)
		},
	}); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"unit": unit, "status": "queued"})
}

func (s *Server) handleGenerateAll(c *gin.Context) {
	var req generateRequest
	if !bindJSON(c, &req, true) {
		return
	}
	quality, err := parseQuality(req.Quality)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	if _, err := s.sess.Magazine(); err != nil {
		s.respondErr(c, err)
		return
	}
	if s.sess.Orchestrator().BatchRunning() {
		s.respondErr(c, orchestrator.ErrBatchRunning)
		return
	}
	if err := s.jobs.Submit(worker.Job{
		Name: "generate all",
		Run: func(ctx context.Context) error {
			rep, err := s.sess.GenerateAll(ctx, quality)
			if err != nil {
				return err
			}
			if len(rep.Failed) > 0 {
				return fmt.Errorf("%d unit(s) failed: %v", len(rep.Failed), rep.Failed)
			}
			return nil
		},
	}); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type regenerateRequest struct {
	Path         string        `json:"path"`
	Modification string        `json:"modification"`
	Quality      model.Quality `json:"quality"`
}

func (s *Server) handleRegenerateImage(c *gin.Context) {
	var req regenerateRequest
	if !bindJSON(c, &req, false) {
		return
	}
	ref, err := model.ParseImagePath(req.Path)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	quality, err := parseQuality(req.Quality)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	if _, err := s.sess.Magazine(); err != nil {
		s.respondErr(c, err)
		return
	}
	path := ref.Path()
	for _, p := range s.sess.Orchestrator().InFlight() {
		if p == path {
			s.respondErr(c, fmt.Errorf("%w: %s", orchestrator.ErrRegenerationInFlight, path))
			return
		}
	}
	if err := s.jobs.Go(worker.Job{
		Name: "regenerate " + path,
		Run: func(ctx context.Context) error {
			_, err := s.sess.RegenerateImage(ctx, path, req.Modification, quality)
			return err
		},
	}); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"path": path, "status": "queued"})
}

// handleProgress streams feed messages as server-sent events. The backlog
// since the last reset is sent first; clients dedupe on seq.
func (s *Server) handleProgress(c *gin.Context) {
	feed := s.sess.Feed()
	ch, cancel := feed.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	for _, m := range feed.Messages() {
		c.SSEvent("message", m)
	}
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = io.WriteString(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		case m, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("message", m)
			c.Writer.Flush()
		}
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func (s *Server) handleSaveSnapshot(c *gin.Context) {
	e, err := s.sess.SaveSnapshot(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *Server) handleListSnapshots(c *gin.Context) {
	entries, err := s.sess.History(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleRevertSnapshot(c *gin.Context) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "index must be a number")
		return
	}
	if !s.idle(c) {
		return
	}
	if err := s.sess.RevertToIndex(c.Request.Context(), i); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sess.State())
}

// ---------------------------------------------------------------------------
// Identity, concept, comments
// ---------------------------------------------------------------------------

func (s *Server) handleGetIdentity(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.Identity(c.Request.Context()))
}

func (s *Server) handleSaveIdentity(c *gin.Context) {
	var req model.VisualIdentity
	if !bindJSON(c, &req, false) {
		return
	}
	id, err := s.sess.SaveIdentity(c.Request.Context(), req)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}

type logoRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerateLogo(c *gin.Context) {
	var req logoRequest
	if !bindJSON(c, &req, false) {
		return
	}
	id, err := s.sess.GenerateLogo(c.Request.Context(), req.Prompt)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}

func (s *Server) handleEditorialConcept(c *gin.Context) {
	var req model.EditorialConceptInputs
	if !bindJSON(c, &req, false) {
		return
	}
	concept, err := s.sess.EditorialConcept(c.Request.Context(), req)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, concept)
}

func (s *Server) handleFinalDraft(c *gin.Context) {
	fd := s.sess.FinalDraft(c.Request.Context())
	if !fd.NonEmpty() {
		writeError(c, http.StatusNotFound, "empty_final_draft", "nothing to review yet")
		return
	}
	c.JSON(http.StatusOK, fd)
}

type commentRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleListComments(c *gin.Context) {
	comments, err := s.sess.Comments(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	if comments == nil {
		comments = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"articleId": c.Param("id"), "comments": comments})
}

func (s *Server) handleAddComment(c *gin.Context) {
	var req commentRequest
	if !bindJSON(c, &req, false) {
		return
	}
	comments, err := s.sess.AddComment(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"articleId": c.Param("id"), "comments": comments})
}
