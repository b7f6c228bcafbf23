// Package api exposes attention computation over HTTP. The service exists
// for cross-implementation checking: post query/key/value tensors, get the
// attention output back, computed either by the materialized reference path
// or the block-tiled online softmax path.
package api

import (
	"math"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/ringattn/internal/attention"
	"github.com/samcharles93/ringattn/internal/logger"
	"github.com/samcharles93/ringattn/internal/tensor"
)

type Server struct {
	log   logger.Logger
	clock func() time.Time
}

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{log: log, clock: time.Now}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/attention", s.handleAttention)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAttention(c *echo.Context) error {
	var req AttentionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeBadRequest(c, "malformed request body: "+err.Error())
	}

	q, err := headsFromNested("query", req.Query)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	k, err := headsFromNested("key", req.Key)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	v, err := headsFromNested("value", req.Value)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if k.Batch != q.Batch || k.NumHeads != q.NumHeads || k.Dim != q.Dim ||
		v.Batch != k.Batch || v.NumHeads != k.NumHeads || v.Len != k.Len || v.Dim != k.Dim {
		return writeBadRequest(c, "query, key and value shapes are inconsistent")
	}
	if req.QueryBlockSize < 0 || req.KeyBlockSize < 0 {
		return writeBadRequest(c, "block sizes must not be negative")
	}

	var mask *tensor.Mask
	if req.Mask != nil {
		m, err := maskFromNested(req.Mask, k.Batch, k.Len)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		mask = m
	}

	scale := float32(1 / math.Sqrt(float64(q.Dim)))
	start := s.clock()

	resp := AttentionResponse{ID: "attn-" + uuid.NewString()}
	if req.QueryBlockSize > 0 || req.KeyBlockSize > 0 {
		resp.Output = headsToNested(attention.Blocked(q, k, v, mask, req.Causal, scale, req.QueryBlockSize, req.KeyBlockSize))
	} else {
		resp.Output = headsToNested(attention.Full(q, k, v, mask, req.Causal, scale))
	}
	resp.ElapsedMS = float64(s.clock().Sub(start)) / float64(time.Millisecond)

	s.log.Debug("attention computed",
		"id", resp.ID,
		"batch", q.Batch, "heads", q.NumHeads, "len", q.Len, "dim", q.Dim,
		"causal", req.Causal,
		"elapsed_ms", resp.ElapsedMS)
	return c.JSON(http.StatusOK, resp)
}
