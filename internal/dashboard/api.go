package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cryptodash/internal/alert"
	"cryptodash/internal/export"
	"cryptodash/internal/metrics"
	"cryptodash/internal/poller"
	"cryptodash/internal/snapshot"
	"cryptodash/internal/view"
	"cryptodash/models"
)

func errorJSON(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// query builds the view query from request parameters, falling back to the
// configured defaults.
func (s *Server) query(c *gin.Context) (view.Query, error) {
	def := s.backend.View

	tier, err := view.ParseTier(c.DefaultQuery("tier", def.Tier))
	if err != nil {
		return view.Query{}, err
	}
	q := view.Query{
		Tier:       tier,
		Search:     c.Query("search"),
		SortKey:    c.DefaultQuery("sort", def.SortKey),
		Descending: def.Descending,
	}
	switch strings.ToLower(c.Query("order")) {
	case "desc":
		q.Descending = true
	case "asc":
		q.Descending = false
	}
	return q, nil
}

func (s *Server) filtered(c *gin.Context) ([]models.EnrichedCoin, *poller.State, bool) {
	q, err := s.query(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return nil, nil, false
	}
	st := s.backend.Driver.State()
	records, err := view.Apply(st.Records, q, s.backend.Watchlist)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return nil, nil, false
	}
	return records, st, true
}

func (s *Server) listCoins(c *gin.Context) {
	records, st, ok := s.filtered(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"coins":       records,
		"count":       len(records),
		"total":       len(st.Records),
		"cycle":       st.Cycle,
		"last_update": st.LastUpdate,
	})
}

func (s *Server) coinHistory(c *gin.Context) {
	id := c.Param("id")
	history, err := s.backend.Store.History(id)
	if err != nil {
		if errors.Is(err, snapshot.ErrUnknownCoin) {
			errorJSON(c, http.StatusNotFound, err)
			return
		}
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "snapshots": history, "count": len(history)})
}

func (s *Server) summary(c *gin.Context) {
	st := s.backend.Driver.State()
	c.JSON(http.StatusOK, gin.H{
		"summary":              st.Summary,
		"cycle":                st.Cycle,
		"last_update":          st.LastUpdate,
		"next_refresh":         s.backend.Driver.NextRefresh(),
		"countdown_seconds":    int(s.backend.Driver.Countdown().Seconds()),
		"paused":               st.Paused,
		"consecutive_failures": st.ConsecutiveFailures,
		"last_error":           st.LastError,
		"watchlist_count":      s.backend.Watchlist.Count(),
	})
}

func (s *Server) listAlerts(c *gin.Context) {
	alerts := s.backend.Alerts.All()
	if raw := c.Query("minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			errorJSON(c, http.StatusBadRequest, errors.New("minutes must be a positive integer"))
			return
		}
		alerts = s.backend.Alerts.Recent(time.Duration(minutes) * time.Minute)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) clearAlerts(c *gin.Context) {
	s.backend.Alerts.Clear()
	c.Status(http.StatusNoContent)
}

func (s *Server) removeAlert(c *gin.Context) {
	if !s.backend.Alerts.Remove(c.Param("id")) {
		errorJSON(c, http.StatusNotFound, errors.New("alert not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Alerts.Thresholds())
}

func (s *Server) putThresholds(c *gin.Context) {
	var t alert.Thresholds
	if err := c.ShouldBindJSON(&t); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if err := s.backend.Alerts.SetThresholds(t); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, s.backend.Alerts.Thresholds())
}

func (s *Server) getWatchlist(c *gin.Context) {
	ids := s.backend.Watchlist.All()
	c.JSON(http.StatusOK, gin.H{"ids": ids, "count": len(ids)})
}

type watchlistBody struct {
	IDs []string `json:"ids"`
}

func (s *Server) putWatchlist(c *gin.Context) {
	var body watchlistBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	s.backend.Watchlist.Import(body.IDs)
	s.getWatchlist(c)
}

func (s *Server) clearWatchlist(c *gin.Context) {
	s.backend.Watchlist.Clear()
	c.Status(http.StatusNoContent)
}

func (s *Server) toggleWatchlist(c *gin.Context) {
	id := c.Param("id")
	watched := s.backend.Watchlist.Toggle(id)
	c.JSON(http.StatusOK, gin.H{"id": id, "watched": watched})
}

func (s *Server) refresh(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	rep, err := s.backend.Driver.Refresh(c.Request.Context(), force)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": rep})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

func (s *Server) resume(c *gin.Context) {
	s.backend.Driver.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) reset(c *gin.Context) {
	if err := s.backend.Driver.Reset(c.Request.Context()); err != nil {
		errorJSON(c, http.StatusServiceUnavailable, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) exportRecords(c *gin.Context) {
	format, err := export.ParseFormat(c.Param("format"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	records, _, ok := s.filtered(c)
	if !ok {
		return
	}

	var opts export.Options
	if s.backend.Exporter != nil {
		opts = s.backend.Exporter.Options()
	}
	doc, err := export.Render(format, records, s.now(), opts)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	if store, _ := strconv.ParseBool(c.Query("store")); store {
		if s.backend.Exporter == nil || !s.backend.Exporter.Enabled() {
			errorJSON(c, http.StatusConflict, errors.New("export storage is not configured"))
			return
		}
		locations, err := s.backend.Exporter.Write(c.Request.Context(), doc)
		metrics.ReportExport(s.log, s.backend.Metrics, metrics.ExportStats{
			Format:    string(format),
			Records:   doc.Records,
			Bytes:     len(doc.Data),
			Locations: locations,
			Err:       err,
		})
		if err != nil {
			errorJSON(c, http.StatusBadGateway, err)
			return
		}
		c.Header("X-Export-Locations", strings.Join(locations, ","))
	}

	c.Header("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

func (s *Server) stats(c *gin.Context) {
	st := s.backend.Driver.State()
	payload := gin.H{
		"store":     s.backend.Store.Stats(),
		"alerts":    len(s.backend.Alerts.All()),
		"watchlist": s.backend.Watchlist.Count(),
		"poller": gin.H{
			"cycle":                st.Cycle,
			"run_id":               st.RunID,
			"paused":               st.Paused,
			"consecutive_failures": st.ConsecutiveFailures,
			"last_error":           st.LastError,
			"last_error_at":        st.LastErrorAt,
		},
	}
	if s.backend.Source != nil {
		payload["source"] = s.backend.Source.Stats(c.Request.Context())
	}
	c.JSON(http.StatusOK, payload)
}
