package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/client"
	"github.com/flybeeper/region-heatmap/internal/export"
	"github.com/flybeeper/region-heatmap/internal/interaction"
	"github.com/flybeeper/region-heatmap/internal/view"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// RESTHandler обработчик REST API представлений карты
type RESTHandler struct {
	hub     *view.Hub
	logger  *utils.Logger
	timeout time.Duration
}

// NewRESTHandler создает новый REST handler
func NewRESTHandler(hub *view.Hub, logger *utils.Logger) *RESTHandler {
	return &RESTHandler{
		hub:     hub,
		logger:  logger.WithField("component", "rest"),
		timeout: 30 * time.Second,
	}
}

// CreateView открывает представление для токена запроса и запускает загрузку
// POST /api/v1/views
func (h *RESTHandler) CreateView(c *gin.Context) {
	token, _ := auth.GetToken(c)

	v, err := h.hub.Open(token)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        v.ID,
		"createdAt": v.CreatedAt,
		"status":    v.Status(),
	})
}

// GetView возвращает статус загрузки
// GET /api/v1/views/:id
func (h *RESTHandler) GetView(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        v.ID,
		"createdAt": v.CreatedAt,
		"status":    v.Status(),
	})
}

// DeleteView закрывает представление
// DELETE /api/v1/views/:id
func (h *RESTHandler) DeleteView(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	if err := h.hub.Close(v.ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReloadView запускает повторную загрузку; прежний набор остается доступным
// POST /api/v1/views/:id/reload
func (h *RESTHandler) ReloadView(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	if v.Session().Expired() {
		h.respondError(c, auth.ErrSessionExpired)
		return
	}

	v.Reload()
	c.JSON(http.StatusAccepted, gin.H{
		"id":     v.ID,
		"status": v.Status(),
	})
}

// GetRegions возвращает обогащенные регионы как GeoJSON (или protobuf Struct)
// GET /api/v1/views/:id/regions
func (h *RESTHandler) GetRegions(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	ds, err := v.Dataset()
	if err != nil {
		h.respondError(c, err)
		return
	}

	if strings.Contains(c.GetHeader("Accept"), contentTypeProtobuf) {
		data, err := convertRegionsToProto(ds)
		if err != nil {
			h.logger.WithField("error", err).Error("Failed to marshal protobuf")
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "marshal_error",
				"message": "Failed to serialize response",
			})
			return
		}
		c.Data(http.StatusOK, contentTypeProtobuf, data)
		return
	}

	c.JSON(http.StatusOK, ds.FeatureCollection())
}

// GetAggregate возвращает глобальный агрегат
// GET /api/v1/views/:id/aggregate
func (h *RESTHandler) GetAggregate(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	ds, err := v.Dataset()
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"aggregate": ds.Aggregate,
		"warning":   v.Status().Warning,
	})
}

// GetLegend возвращает легенду цветовой шкалы
// GET /api/v1/views/:id/legend
func (h *RESTHandler) GetLegend(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stops": v.ColorScale().Legend(),
	})
}

// GetBounds возвращает прямоугольник всех регионов
// GET /api/v1/views/:id/bounds
func (h *RESTHandler) GetBounds(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	ds, err := v.Dataset()
	if err != nil {
		h.respondError(c, err)
		return
	}

	bound, ok := ds.Bound()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "no_geometry",
			"message": "View has no regions",
		})
		return
	}
	c.JSON(http.StatusOK, convertBoundToJSON(bound))
}

// GetSidebar возвращает список регионов боковой панели
// GET /api/v1/views/:id/sidebar?q=моск
func (h *RESTHandler) GetSidebar(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	sb, err := v.Sidebar(c.Query("q"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sb)
}

// ExportSidebar выгружает список регионов в XLSX
// GET /api/v1/views/:id/sidebar.xlsx?q=
func (h *RESTHandler) ExportSidebar(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	sb, err := v.Sidebar(c.Query("q"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	// Итоги по стране опциональны для выгрузки
	summary, err := v.Summary(ctx)
	if err != nil {
		h.logger.WithField("view_id", v.ID).WithError(err).Warn("Summary unavailable for export")
		summary = nil
	}

	now := time.Now()
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(now)+`"`)
	c.Header("Content-Type", export.ContentType)
	c.Status(http.StatusOK)
	if err := export.Write(c.Writer, sb, summary, now); err != nil {
		h.logger.WithField("view_id", v.ID).WithError(err).Error("Failed to write XLSX export")
	}
}

// GetSummary возвращает итоги по стране
// GET /api/v1/views/:id/summary
func (h *RESTHandler) GetSummary(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	summary, err := v.Summary(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetState возвращает проекцию состояния взаимодействия
// GET /api/v1/views/:id/state
func (h *RESTHandler) GetState(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v.Project(v.State()))
}

// PostEvent передает событие интерфейса в машину состояний
// POST /api/v1/views/:id/events
func (h *RESTHandler) PostEvent(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_event",
			"message": err.Error(),
		})
		return
	}
	e, err := req.Event()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_event",
			"message": err.Error(),
		})
		return
	}

	state, err := v.Dispatch(c.Request.Context(), e)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"view_id": v.ID,
		"event":   interaction.EventName(e),
		"phase":   state.Phase(),
	}).Debug("Interaction event dispatched")

	c.JSON(http.StatusOK, v.Project(state))
}

// view находит представление по :id и проверяет, что запрос сделан тем же токеном
func (h *RESTHandler) view(c *gin.Context) (*view.View, bool) {
	v, err := h.hub.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}

	token, _ := auth.GetToken(c)
	if token != v.Session().Token() {
		c.JSON(http.StatusForbidden, gin.H{
			"code":    "forbidden",
			"message": "View belongs to another session",
		})
		return nil, false
	}
	return v, true
}

// respondError отображает ошибки конвейера в HTTP ответы
func (h *RESTHandler) respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	body := gin.H{
		"code":    code,
		"message": err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithField("path", c.FullPath()).WithError(err).Error("Request failed")
	}
	c.JSON(status, body)
}

// errorStatus HTTP статус и код ошибки
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrSessionExpired), client.IsUnauthorized(err):
		return http.StatusUnauthorized, "session_expired"
	case errors.Is(err, view.ErrEmptyToken):
		return http.StatusUnauthorized, "missing_token"
	case errors.Is(err, view.ErrViewNotFound):
		return http.StatusNotFound, "view_not_found"
	case errors.Is(err, view.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, interaction.ErrUnknownRegion):
		return http.StatusNotFound, "unknown_region"
	case errors.Is(err, interaction.ErrClosed):
		return http.StatusGone, "view_closed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "backend_timeout"
	}

	var netErr net.Error
	switch {
	case client.Classify(err) == "status", client.Classify(err) == "shape", errors.As(err, &netErr):
		return http.StatusBadGateway, "backend_error"
	}
	return http.StatusInternalServerError, "internal_error"
}
