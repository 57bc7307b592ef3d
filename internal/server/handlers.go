package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pulse-analytics/internal/apierr"
	"pulse-analytics/internal/ingest"
	"pulse-analytics/internal/stats"
)

type handlers struct {
	ingest *ingest.Service
	stats  *stats.Service
}

func (h *handlers) logEvent(c *gin.Context) {
	var req ingest.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.Validationf("Invalid JSON body"))
		return
	}
	result, err := h.ingest.LogEvent(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":   "Event logged successfully",
		"event_id":  result.EventID,
		"timestamp": result.Timestamp,
	})
}

func (h *handlers) registerUser(c *gin.Context) {
	var req ingest.UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.Validationf("Invalid JSON body"))
		return
	}
	result, err := h.ingest.RegisterUser(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.Action == ingest.ActionCreated {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h *handlers) trackSession(c *gin.Context) {
	var req ingest.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.Validationf("Invalid JSON body"))
		return
	}
	result, err := h.ingest.TrackSession(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h *handlers) reportCrash(c *gin.Context) {
	var req ingest.CrashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.Validationf("Invalid JSON body"))
		return
	}
	result, err := h.ingest.ReportCrash(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.Action == ingest.ActionCreated {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h *handlers) listEvents(c *gin.Context) {
	result, err := h.stats.ListEvents(c.Request.Context(), c.Param("package"), queryInt(c, "limit"), c.Query("event_type"))
	respond(c, result, err)
}

func (h *handlers) eventStats(c *gin.Context) {
	result, err := h.stats.GetEventStats(c.Request.Context(), c.Param("package"))
	respond(c, result, err)
}

func (h *handlers) listUsers(c *gin.Context) {
	result, err := h.stats.ListUsers(c.Request.Context(), c.Param("package"), queryInt(c, "limit"), queryBool(c, "active_only"))
	respond(c, result, err)
}

func (h *handlers) userStats(c *gin.Context) {
	result, err := h.stats.GetUserStats(c.Request.Context(), c.Param("package"))
	respond(c, result, err)
}

func (h *handlers) listSessions(c *gin.Context) {
	result, err := h.stats.ListSessions(c.Request.Context(), c.Param("package"), queryInt(c, "limit"), queryBool(c, "completed_only"))
	respond(c, result, err)
}

func (h *handlers) sessionStats(c *gin.Context) {
	result, err := h.stats.GetSessionStats(c.Request.Context(), c.Param("package"))
	respond(c, result, err)
}

func (h *handlers) listCrashes(c *gin.Context) {
	result, err := h.stats.ListCrashes(c.Request.Context(), c.Param("package"), queryInt(c, "limit"), c.Query("sort_by"))
	respond(c, result, err)
}

func (h *handlers) crashStats(c *gin.Context) {
	result, err := h.stats.GetCrashStats(c.Request.Context(), c.Param("package"))
	respond(c, result, err)
}

func (h *handlers) listPackages(c *gin.Context) {
	result, err := h.stats.Packages(c.Request.Context())
	respond(c, result, err)
}

func (h *handlers) packageSummary(c *gin.Context) {
	pkg := c.Param("package")
	result, err := h.stats.Summary(c.Request.Context(), pkg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_name": pkg, "summary": result})
}

// respond writes a 200 with the result or the mapped error.
func respond(c *gin.Context, result any, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// respondError maps the error taxonomy onto status codes; anything
// unclassified reaches the client as a 500 with a structured body.
func respondError(c *gin.Context, err error) {
	c.JSON(apierr.StatusCode(err), gin.H{"error": apierr.Message(err)})
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

func queryBool(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.Query(name))
	return v
}
