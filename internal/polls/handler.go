package polls

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/middleware"
	"github.com/pollcast/backend/internal/models"
	"github.com/pollcast/backend/internal/session"
	"github.com/pollcast/backend/pkg/response"
)

const maxTitleLen = 200

// Publisher fans an updated poll out to live viewers.
type Publisher interface {
	Publish(p *models.Poll)
}

// CreateRequest is the body for POST /api/polls and POST /api/polls/:id/edit.
type CreateRequest struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

// VoteRequest is the body for POST /api/polls/:id/vote.
type VoteRequest struct {
	OptionID *int `json:"optionId"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	store   Store
	binder  *session.Binder
	cookies *session.Cookies
	pub     Publisher
	logger  *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(store Store, binder *session.Binder, cookies *session.Cookies, pub Publisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, binder: binder, cookies: cookies, pub: pub, logger: logger}
}

// validate trims the title and options and drops blank options.
func (req CreateRequest) validate() (string, []string, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return "", nil, apperr.Invalid("title is required")
	}
	if len(title) > maxTitleLen {
		return "", nil, apperr.Invalid("title is too long")
	}
	var options []string
	for _, o := range req.Options {
		if t := strings.TrimSpace(o); t != "" {
			options = append(options, t)
		}
	}
	if len(options) < 2 {
		return "", nil, apperr.Invalid("at least two options are required")
	}
	return title, options, nil
}

func (h *Handler) fail(c *gin.Context, op string, err error, fields ...zap.Field) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Error(op, append(fields, zap.Error(err))...)
	}
	response.Error(c, err)
}

func parsePollID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid poll id")
	}
	return id, nil
}

func (h *Handler) publish(ctx context.Context, id uuid.UUID) *models.Poll {
	p, err := h.store.GetByID(ctx, id)
	if err != nil {
		h.logger.Warn("fetch poll for broadcast", zap.String("poll_id", id.String()), zap.Error(err))
		return nil
	}
	if h.pub != nil {
		h.pub.Publish(p)
	}
	return p
}

// Create handles POST /api/polls (authenticated).
func (h *Handler) Create(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	title, options, err := req.validate()
	if err != nil {
		response.Error(c, err)
		return
	}

	p := &models.Poll{CreatorID: user.ID, Title: title, Options: models.NewOptions(options)}
	if err := h.store.Create(c.Request.Context(), p); err != nil {
		h.fail(c, "create poll", err, zap.String("user_id", user.ID.String()))
		return
	}
	h.logger.Info("poll created", zap.String("poll_id", p.ID.String()), zap.String("user_id", user.ID.String()))
	response.OK(c, p)
}

// Get handles GET /api/polls/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := parsePollID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	p, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get poll", err, zap.String("poll_id", id.String()))
		return
	}
	response.OK(c, p)
}

// ensureSession returns the caller's session id, starting an anonymous
// session when the request carries none.
func (h *Handler) ensureSession(c *gin.Context) (string, error) {
	if sid := middleware.SessionID(c); sid != "" {
		return sid, nil
	}
	sid, err := h.binder.EstablishSession(c.Request.Context(), uuid.Nil, "")
	if err != nil {
		return "", err
	}
	if err := h.cookies.SetSession(c, sid); err != nil {
		return "", fmt.Errorf("%w: issue session cookie: %v", apperr.ErrStore, err)
	}
	c.Set(middleware.ContextSessionID, sid)
	return sid, nil
}

// Vote handles POST /api/polls/:id/vote. The session's voted flag is set
// before the increment so a session is counted at most once per poll.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := parsePollID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OptionID == nil {
		response.BadRequest(c, "optionId is required")
		return
	}
	optionID := *req.OptionID
	ctx := c.Request.Context()
	fields := []zap.Field{zap.String("poll_id", pollID.String()), zap.Int("option_id", optionID)}

	sid, err := h.ensureSession(c)
	if err != nil {
		h.fail(c, "vote", err, fields...)
		return
	}
	voted, err := h.binder.HasVoted(ctx, sid, pollID)
	if err != nil {
		h.fail(c, "vote", err, fields...)
		return
	}
	if voted {
		response.Error(c, apperr.ErrAlreadyVoted)
		return
	}

	p, err := h.store.GetByID(ctx, pollID)
	if err != nil {
		h.fail(c, "vote", err, fields...)
		return
	}
	if p.IsClosed {
		response.Error(c, fmt.Errorf("%w: poll is closed", apperr.ErrVoteRejected))
		return
	}
	if !p.HasOption(optionID) {
		response.Error(c, apperr.Invalid("unknown option"))
		return
	}

	fresh, err := h.binder.MarkVoted(ctx, sid, pollID)
	if err != nil {
		h.fail(c, "vote", err, fields...)
		return
	}
	if !fresh {
		response.Error(c, apperr.ErrAlreadyVoted)
		return
	}

	matched, err := h.store.Vote(ctx, pollID, optionID)
	if err != nil {
		h.fail(c, "vote", err, fields...)
		return
	}
	if !matched {
		// The poll was closed or deleted between the check and the increment.
		h.logger.Info("vote matched no open option", fields...)
		response.Error(c, apperr.ErrVoteRejected)
		return
	}
	h.logger.Debug("vote recorded", fields...)

	updated := h.publish(ctx, pollID)
	if updated == nil {
		response.OK(c, gin.H{"message": "vote recorded"})
		return
	}
	response.OK(c, updated)
}

// ListMine handles GET /api/polls/manage.
func (h *Handler) ListMine(c *gin.Context) {
	user := middleware.CurrentUser(c)
	list, err := h.store.ListByCreator(c.Request.Context(), user.ID)
	if err != nil {
		h.fail(c, "list polls", err, zap.String("user_id", user.ID.String()))
		return
	}
	response.OK(c, list)
}

// ListAll handles GET /api/polls/all.
func (h *Handler) ListAll(c *gin.Context) {
	list, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		h.fail(c, "list polls", err)
		return
	}
	response.OK(c, list)
}

// manage runs an ownership-scoped write. A poll that is missing or owned by
// someone else yields the same 404.
func (h *Handler) manage(c *gin.Context, op string, write func(ctx context.Context, id, creatorID uuid.UUID) (bool, error)) (uuid.UUID, bool) {
	id, err := parsePollID(c)
	if err != nil {
		response.Error(c, err)
		return uuid.Nil, false
	}
	user := middleware.CurrentUser(c)
	ok, err := write(c.Request.Context(), id, user.ID)
	if err != nil {
		h.fail(c, op, err, zap.String("poll_id", id.String()), zap.String("user_id", user.ID.String()))
		return uuid.Nil, false
	}
	if !ok {
		response.Error(c, fmt.Errorf("%w: poll %s", apperr.ErrNotFound, id))
		return uuid.Nil, false
	}
	h.logger.Info(op, zap.String("poll_id", id.String()), zap.String("user_id", user.ID.String()))
	return id, true
}

func (h *Handler) respondUpdated(c *gin.Context, id uuid.UUID) {
	p := h.publish(c.Request.Context(), id)
	if p == nil {
		response.Error(c, fmt.Errorf("%w: poll %s vanished after update", apperr.ErrNotFound, id))
		return
	}
	response.OK(c, p)
}

// Close handles POST /api/polls/:id/close.
func (h *Handler) Close(c *gin.Context) {
	if id, ok := h.manage(c, "poll closed", h.store.Close); ok {
		h.respondUpdated(c, id)
	}
}

// Reset handles POST /api/polls/:id/reset.
func (h *Handler) Reset(c *gin.Context) {
	if id, ok := h.manage(c, "poll reset", h.store.Reset); ok {
		h.respondUpdated(c, id)
	}
}

// Edit handles POST /api/polls/:id/edit.
func (h *Handler) Edit(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	title, options, err := req.validate()
	if err != nil {
		response.Error(c, err)
		return
	}
	edit := func(ctx context.Context, id, creatorID uuid.UUID) (bool, error) {
		return h.store.Edit(ctx, id, creatorID, title, options)
	}
	if id, ok := h.manage(c, "poll edited", edit); ok {
		h.respondUpdated(c, id)
	}
}

// Delete handles POST /api/polls/:id/delete. Nothing is broadcast.
func (h *Handler) Delete(c *gin.Context) {
	if _, ok := h.manage(c, "poll deleted", h.store.Delete); ok {
		response.OK(c, gin.H{"message": "poll deleted"})
	}
}
