package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/campaign"
	"github.com/Nehilsa2/linkedin_outreach/isolation"
	"github.com/Nehilsa2/linkedin_outreach/session"
)

// Credentials identify the account a request runs as. Cookies are
// preferred; username and password are the fallback.
type Credentials struct {
	Username string           `json:"username,omitempty"`
	Password string           `json:"password,omitempty"`
	Cookies  []account.Cookie `json:"cookies,omitempty"`
	// Handle names the account's profile store. Derived when empty.
	Handle           string `json:"handle,omitempty"`
	DailyConnections int    `json:"daily_connections,omitempty"`
	DailyMessages    int    `json:"daily_messages,omitempty"`
}

// account builds the request's account, falling back to the configured
// quotas when the request names none.
func (s *Server) account(c Credentials) (account.Account, error) {
	connections, messages := c.DailyConnections, c.DailyMessages
	if connections == 0 {
		connections = s.cfg.DailyConnections
	}
	if messages == 0 {
		messages = s.cfg.DailyMessages
	}
	acct, err := account.NewBuilder().
		WithHandle(c.Handle).
		WithCookies(c.Cookies).
		WithCredentials(c.Username, c.Password).
		WithQuotas(connections, messages).
		Build()
	if errors.Is(err, account.ErrNoAuthMaterial) {
		return acct, errors.New("Either 'cookies' or both 'username' and 'password' must be provided")
	}
	return acct, err
}

// CampaignRequest starts a campaign.
type CampaignRequest struct {
	Credentials
	URLs         []string `json:"urls"`
	CampaignName string   `json:"campaign_name,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	Note         string   `json:"note,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// CampaignResponse reports a finished or accepted campaign.
type CampaignResponse struct {
	Success           bool                      `json:"success"`
	Message           string                    `json:"message"`
	CampaignID        string                    `json:"campaign_id,omitempty"`
	CampaignName      string                    `json:"campaign_name,omitempty"`
	ProfilesProcessed *int                      `json:"profiles_processed"`
	Succeeded         int                       `json:"profiles_succeeded"`
	Failed            int                       `json:"profiles_failed"`
	StoppedReason     string                    `json:"stopped_reason,omitempty"`
	Profiles          []campaign.ProfileOutcome `json:"profiles,omitempty"`
}

// StatusRequest asks for profile states.
type StatusRequest struct {
	Credentials
	URLs []string `json:"urls"`
}

// MessageRequest sends one message.
type MessageRequest struct {
	Credentials
	URL     string `json:"url"`
	Message string `json:"message"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse carries a human readable failure.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: Version})
}

// runRequest validates a campaign body the way every campaign endpoint
// needs it.
func (s *Server) runRequest(w http.ResponseWriter, r *http.Request) (campaign.RunRequest, bool) {
	var req CampaignRequest
	if !s.decode(w, r, &req) {
		return campaign.RunRequest{}, false
	}
	if !s.checkURLs(w, req.URLs, "No URLs provided. Please provide at least one LinkedIn profile URL.") {
		return campaign.RunRequest{}, false
	}
	acct, err := s.account(req.Credentials)
	if err != nil {
		s.httpError(w, err.Error(), http.StatusBadRequest)
		return campaign.RunRequest{}, false
	}
	return campaign.RunRequest{
		Account:      acct,
		Targets:      req.URLs,
		CampaignName: req.CampaignName,
		Mode:         campaign.Mode(req.Mode),
		Note:         req.Note,
		Message:      req.Message,
	}, true
}

func (s *Server) runCampaign(w http.ResponseWriter, r *http.Request) {
	req, ok := s.runRequest(w, r)
	if !ok {
		return
	}
	s.log.Info("campaign requested",
		zap.String("account", req.Account.Handle()),
		zap.Int("targets", len(req.Targets)))

	res, err := s.campaigns.RunCampaign(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !res.Success {
		s.httpError(w, res.Message, http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusOK, toResponse(res))
}

func toResponse(res campaign.Result) CampaignResponse {
	processed := res.Processed
	return CampaignResponse{
		Success:           res.Success,
		Message:           res.Message,
		CampaignID:        res.CampaignID,
		CampaignName:      res.CampaignName,
		ProfilesProcessed: &processed,
		Succeeded:         res.Succeeded,
		Failed:            res.Failed,
		StoppedReason:     res.StopReason,
		Profiles:          res.Profiles,
	}
}

func (s *Server) runCampaignAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.runRequest(w, r)
	if !ok {
		return
	}
	req.RunID = uuid.NewString()
	name := strings.TrimSpace(req.CampaignName)
	if name == "" {
		name = campaign.DefaultCampaignName
	}

	log := s.log.With(zap.String("run", req.RunID), zap.String("account", req.Account.Handle()))
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		res, err := s.campaigns.RunCampaign(s.bgCtx, req)
		if err != nil {
			log.Error("background campaign rejected", zap.Error(err))
			return
		}
		log.Info("background campaign finished",
			zap.Bool("success", res.Success),
			zap.Int("processed", res.Processed),
			zap.String("message", res.Message))
	}()

	s.respondJSON(w, http.StatusAccepted, CampaignResponse{
		Success:      true,
		Message:      fmt.Sprintf("Campaign '%s' started in background", name),
		CampaignID:   req.RunID,
		CampaignName: name,
	})
}

func (s *Server) storedStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkURLs(w, req.URLs, "At least one URL is required") {
		return
	}
	handle := req.Handle
	if handle == "" && req.Username != "" {
		handle = account.HandleFromUsername(req.Username)
	}
	if handle == "" {
		s.httpError(w, "Either 'handle' or 'username' must be provided", http.StatusBadRequest)
		return
	}

	out, err := s.campaigns.StoredStatus(r.Context(), campaign.StoredStatusRequest{Handle: handle, URLs: req.URLs})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) liveStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkURLs(w, req.URLs, "At least one URL is required") {
		return
	}
	acct, err := s.account(req.Credentials)
	if err != nil {
		s.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.campaigns.CheckStatus(r.Context(), campaign.StatusRequest{Account: acct, URLs: req.URLs})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Message) == "" {
		s.httpError(w, "Both 'url' and 'message' are required", http.StatusBadRequest)
		return
	}
	acct, err := s.account(req.Credentials)
	if err != nil {
		s.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.campaigns.SendMessage(r.Context(), campaign.MessageRequest{Account: acct, URL: req.URL, Text: req.Message})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.campaigns.Export(r.Context(), r.PathValue("handle"), &buf); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) checkURLs(w http.ResponseWriter, urls []string, empty string) bool {
	if len(urls) == 0 {
		s.httpError(w, empty, http.StatusBadRequest)
		return false
	}
	if s.cfg.MaxTargets > 0 && len(urls) > s.cfg.MaxTargets {
		s.httpError(w, fmt.Sprintf("Too many URLs. Maximum %d profiles per request.", s.cfg.MaxTargets), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.httpError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps a service error to a status code.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrInvalidRequest):
		msg := strings.TrimPrefix(err.Error(), campaign.ErrInvalidRequest.Error()+": ")
		s.httpError(w, msg, http.StatusBadRequest)
	case errors.Is(err, session.ErrSessionBusy):
		s.httpError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrRegistryClosed), errors.Is(err, isolation.ErrClosed):
		s.httpError(w, "Service is shutting down", http.StatusServiceUnavailable)
	default:
		s.log.Error("request failed", zap.Error(err))
		s.httpError(w, fmt.Sprintf("Internal server error: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) httpError(w http.ResponseWriter, message string, code int) {
	s.respondJSON(w, code, ErrorResponse{Detail: message})
}
