package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/orchestrator"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

type scrapeChannelsRequest struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	WaitTime  int    `json:"wait_time" validate:"omitempty,min=5,max=60"`
}

type channelsResponse struct {
	Success       bool             `json:"success"`
	Channels      []scrape.Channel `json:"channels"`
	TotalChannels int              `json:"total_channels"`
	Timestamp     time.Time        `json:"timestamp"`
	Error         string           `json:"error,omitempty"`
}

type extractRequest struct {
	SessionID       string `json:"session_id"`
	WaitTime        int    `json:"wait_time" validate:"omitempty,min=5,max=60"`
	ExtractSelector string `json:"extract_selector"`
}

// extractResponse keeps the h1_text field name even when another
// selector is asked for.
type extractResponse struct {
	Success   bool      `json:"success"`
	H1Text    *string   `json:"h1_text"`
	URL       *string   `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	Error     *string   `json:"error"`
}

type videosRequest struct {
	SessionID string `json:"session_id"`
}

type videosResponse struct {
	Success bool `json:"success"`
	scrape.PageSummary
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

type pageRequest struct {
	URL       string            `json:"url" validate:"required,http_url"`
	WaitTime  int               `json:"wait_time" validate:"gte=0"`
	Selectors map[string]string `json:"selectors"`
	Render    *bool             `json:"render"`
}

type pageResponse struct {
	Success bool           `json:"success"`
	URL     string         `json:"url"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) scrapeChannels(w http.ResponseWriter, r *http.Request) {
	var req scrapeChannelsRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	if !s.checkSession(w, req.SessionID) {
		return
	}
	res, err := s.deps.Scraper.Channels(r.Context(), scrape.JobRequest{
		Kind:        scrape.JobKindChannels,
		SessionID:   req.SessionID,
		URL:         req.URL,
		WaitSeconds: req.WaitTime,
	})
	if err != nil {
		s.logger.Error("scrape channels failed", zap.Error(err))
		writeJSON(w, statusFor(err), channelsResponse{
			Channels:  []scrape.Channel{},
			Timestamp: s.now(),
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, channelsResponse{
		Success:       true,
		Channels:      res.Channels,
		TotalChannels: res.TotalChannels,
		Timestamp:     s.now(),
	})
}

func (s *Server) loginAndScrape(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	if !s.checkSession(w, req.SessionID) {
		return
	}
	res, err := s.deps.Scraper.LoginAndExtract(r.Context(), orchestrator.ExtractRequest{
		SessionID: req.SessionID,
		Selector:  req.ExtractSelector,
		Wait:      time.Duration(req.WaitTime) * time.Second,
	})
	if err != nil {
		s.logger.Error("login and scrape failed", zap.Error(err))
		msg := err.Error()
		writeJSON(w, statusFor(err), extractResponse{Timestamp: s.now(), Error: &msg})
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{
		Success:   true,
		H1Text:    &res.Text,
		URL:       &res.URL,
		Timestamp: s.now(),
	})
}

func (s *Server) navigateToVideos(w http.ResponseWriter, r *http.Request) {
	var req videosRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if !s.checkSession(w, req.SessionID) {
		return
	}
	summary, err := s.deps.Scraper.Videos(r.Context(), req.SessionID)
	if err != nil {
		s.logger.Error("navigate to videos failed", zap.Error(err))
		writeJSON(w, statusFor(err), videosResponse{Timestamp: s.now(), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, videosResponse{Success: true, PageSummary: summary, Timestamp: s.now()})
}

// scrapePage reports scrape failures in the body with a 200, so callers
// only see non-2xx codes for bad requests.
func (s *Server) scrapePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	render := true
	if req.Render != nil {
		render = *req.Render
	}
	res, err := s.deps.Scraper.Page(r.Context(), orchestrator.PageRequest{
		URL:       req.URL,
		Wait:      time.Duration(req.WaitTime) * time.Second,
		Selectors: req.Selectors,
		Render:    render,
	})
	if err != nil {
		s.logger.Warn("scrape page failed", zap.String("url", req.URL), zap.Error(err))
		writeJSON(w, http.StatusOK, pageResponse{URL: req.URL, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Success: true, URL: res.URL, Data: res.Data})
}
