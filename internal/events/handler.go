package events

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/reel-study/backend/internal/tracker"
	"github.com/reel-study/backend/pkg/response"
)

// BatchRequest is the body for POST /api/track/batch.
type BatchRequest struct {
	Events []tracker.TrackRequest `json:"events"`
}

// Handler handles event tracking and query endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RequestMetadata extracts the user agent and client address of c.
func RequestMetadata(c *gin.Context) Metadata {
	ip := c.GetHeader("X-Forwarded-For")
	if ip == "" {
		ip = c.RemoteIP()
	}
	return Metadata{UserAgent: c.GetHeader("User-Agent"), IPAddress: ip}
}

// Track handles POST /api/track.
func (h *Handler) Track(c *gin.Context) {
	var req tracker.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.EventName) == "" {
		response.BadRequest(c, "event_name is required")
		return
	}
	ev, _, err := h.svc.Track(c.Request.Context(), req, RequestMetadata(c))
	if err != nil {
		h.logger.Error("track event failed", zap.String("event_name", req.EventName), zap.Error(err))
		response.Internal(c, "Failed to track event", err.Error())
		return
	}
	response.OK(c, gin.H{"event_id": ev.ID, "message": "Event tracked successfully"})
}

// TrackBatch handles POST /api/track/batch.
func (h *Handler) TrackBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Events) == 0 {
		response.BadRequest(c, "events array is required")
		return
	}
	n, err := h.svc.TrackBatch(c.Request.Context(), req.Events, RequestMetadata(c))
	if err != nil {
		h.logger.Error("batch track failed", zap.Int("inserted", n), zap.Error(err))
		response.Internal(c, "Failed to track events", err.Error())
		return
	}
	response.OK(c, gin.H{"inserted_count": n, "message": "Events tracked successfully"})
}

// List handles GET /api/events?condition=&participant_id=&limit=.
func (h *Handler) List(c *gin.Context) {
	condition := c.Query("condition")
	participantID := c.Query("participant_id")
	limit := queryInt(c, "limit")
	label := participantID
	if label == "" {
		label = "all"
	}

	if condition != "" {
		list, table, err := h.svc.Recent(c.Request.Context(), condition, participantID, limit)
		if err != nil {
			h.internal(c, "Failed to fetch events", err)
			return
		}
		response.OK(c, gin.H{
			"condition":      condition,
			"collection":     table,
			"participant_id": label,
			"count":          len(list),
			"events":         list,
		})
		return
	}

	list, err := h.svc.RecentAll(c.Request.Context(), participantID, limit)
	if err != nil {
		h.internal(c, "Failed to fetch events", err)
		return
	}
	response.OK(c, gin.H{"participant_id": label, "count": len(list), "events": list})
}

// ByParticipant handles GET /api/events/by-participant?condition=.
func (h *Handler) ByParticipant(c *gin.Context) {
	condition := c.Query("condition")
	if condition == "" {
		response.BadRequest(c, "condition parameter is required")
		return
	}
	groups, table, err := h.svc.ByParticipant(c.Request.Context(), condition)
	if err != nil {
		h.internal(c, "Failed to group events by participant", err)
		return
	}
	response.OK(c, gin.H{
		"condition":         condition,
		"collection":        table,
		"participant_count": len(groups),
		"participants":      groups,
	})
}

// ParticipantEvents handles GET /api/events/participant/:participantId.
func (h *Handler) ParticipantEvents(c *gin.Context) {
	participantID := c.Param("participantId")
	if participantID == "" {
		participantID = c.Query("participant_id")
	}
	if participantID == "" {
		response.BadRequest(c, "participant_id is required. Use /api/events/participant/PARTICIPANT_ID")
		return
	}
	condition := c.Query("condition")
	list, table, err := h.svc.ParticipantEvents(c.Request.Context(), participantID, condition, queryInt(c, "limit"))
	if err != nil {
		h.internal(c, "Failed to fetch participant events", err)
		return
	}
	fields := gin.H{"participant_id": participantID, "count": len(list), "events": list}
	if condition != "" {
		fields["condition"] = condition
		fields["collection"] = table
	}
	response.OK(c, fields)
}

func (h *Handler) internal(c *gin.Context, msg string, err error) {
	h.logger.Error(strings.ToLower(msg), zap.String("path", c.FullPath()), zap.Error(err))
	if errors.Is(err, ErrUnknownCondition) {
		response.BadRequest(c, err.Error())
		return
	}
	response.Internal(c, msg, err.Error())
}

// queryInt returns the integer query value of key, or 0 when absent or malformed.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
