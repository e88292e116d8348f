package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/pulsecore/internal/hardware"
	"codeberg.org/mutker/pulsecore/internal/history"
	"codeberg.org/mutker/pulsecore/internal/settings"
	"codeberg.org/mutker/pulsecore/internal/telemetry"
	"github.com/gin-gonic/gin"
)

const defaultPageSize = 20

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/state", s.getState)
		api.GET("/hardware", s.getHardware)
		api.GET("/settings", s.getSettings)
		api.PUT("/settings", s.putSettings)
		api.PUT("/mode", s.putMode)
		api.POST("/ping", s.postPing)
		api.GET("/history", s.getHistory)
		api.POST("/history", s.postHistory)
		api.POST("/history/export", s.postExport)
	}

	if s.deps.Events != nil {
		s.engine.GET("/ws", gin.WrapF(s.deps.Events))
	}
}

type stateResponse struct {
	Settings settings.AppSettings `json:"settings"`
	Mode     settings.Mode        `json:"mode"`
	Recent   []telemetry.Snapshot `json:"recent"`
	Hardware hardware.Info        `json:"hardware"`
}

func (s *Server) getState(c *gin.Context) {
	view := s.deps.Settings.View()
	c.JSON(http.StatusOK, stateResponse{
		Settings: view.Settings,
		Mode:     view.Mode,
		Recent:   s.deps.Recent.Recent(),
		Hardware: s.deps.Hardware,
	})
}

func (s *Server) getHardware(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Hardware)
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Settings.Get())
}

func (s *Server) putSettings(c *gin.Context) {
	var next settings.AppSettings
	if err := c.ShouldBindJSON(&next); err != nil {
		s.fail(c, badRequest("invalid settings body: "+err.Error()))
		return
	}

	if err := s.deps.Settings.Set(c.Request.Context(), next); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, s.deps.Settings.Get())
}

type modeRequest struct {
	Mode *settings.Mode `json:"mode" binding:"required"`
}

func (s *Server) putMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest("invalid mode body: "+err.Error()))
		return
	}

	s.deps.Settings.SetMode(*req.Mode)
	c.JSON(http.StatusOK, s.deps.Settings.View())
}

type pingRequest struct {
	Target string `json:"target"`
	Count  int    `json:"count"`
}

func (s *Server) postPing(c *gin.Context) {
	var req pingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, badRequest("invalid ping body: "+err.Error()))
			return
		}
	}

	current := s.deps.Settings.Get()
	if req.Target == "" {
		req.Target = current.PingTarget
	}
	if req.Count == 0 {
		req.Count = current.PingCount
	}

	result, err := s.deps.Pinger.Measure(c.Request.Context(), req.Target, req.Count)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type historyQuery struct {
	Page     int        `form:"page" binding:"omitempty,min=1"`
	PageSize int        `form:"page_size"`
	From     *time.Time `form:"from"`
	To       *time.Time `form:"to"`
}

func (s *Server) getHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.fail(c, badRequest("invalid history query: "+err.Error()))
		return
	}

	filter := history.Filter{Page: q.Page, PageSize: q.PageSize, From: q.From, To: q.To}
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.PageSize == 0 {
		filter.PageSize = defaultPageSize
	}

	page, err := s.deps.History.Query(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// speedTestRequest makes download_mbps mandatory on the wire; a measured
// 0 is still a valid result.
type speedTestRequest struct {
	history.SpeedTestResult
	DownloadMbps *float64 `json:"download_mbps" binding:"required"`
}

func (s *Server) postHistory(c *gin.Context) {
	var req speedTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest("invalid speed test body: "+err.Error()))
		return
	}

	result := req.SpeedTestResult
	result.DownloadMbps = *req.DownloadMbps
	result.TimestampInvalid = false

	if err := s.deps.History.Insert(c.Request.Context(), result); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type exportRequest struct {
	FileName string     `json:"file_name"`
	From     *time.Time `json:"from"`
	To       *time.Time `json:"to"`
}

func (s *Server) postExport(c *gin.Context) {
	var req exportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, badRequest("invalid export body: "+err.Error()))
			return
		}
	}

	name, err := s.exportName(req.FileName)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.deps.History.ExportCSV(c.Request.Context(),
		filepath.Join(s.deps.ExportDir, name),
		history.TimeRange{From: req.From, To: req.To})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// exportName keeps exports inside the export directory.
func (s *Server) exportName(requested string) (string, error) {
	if requested == "" {
		return fmt.Sprintf("history-%s.csv", s.now().UTC().Format("20060102-150405")), nil
	}

	if requested != filepath.Base(requested) || strings.HasPrefix(requested, ".") {
		return "", badRequest("file_name must be a plain file name")
	}
	if !strings.EqualFold(filepath.Ext(requested), ".csv") {
		requested += ".csv"
	}
	return requested, nil
}
