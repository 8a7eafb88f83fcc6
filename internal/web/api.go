package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"mealendar/internal/auth"
	"mealendar/internal/calendar"
	"mealendar/internal/chat"
	"mealendar/internal/dashboard"
	appLog "mealendar/internal/log"
	"mealendar/internal/model"
	"mealendar/internal/schedule"
)

// publicPanel is the map panel shared by visitors without a session.
const publicPanel = "public"

// maxChatBody bounds the /api/chat request body.
const maxChatBody = 64 << 10

// configResponse is the JSON response shape for /api/config.
type configResponse struct {
	Map struct {
		Center           model.LatLng `json:"center"`
		Zoom             int          `json:"zoom"`
		SingleMarkerZoom int          `json:"single_marker_zoom"`
		APIKey           string       `json:"api_key,omitempty"`
	} `json:"map"`
	Timezone    string `json:"timezone"`
	GoogleLogin bool   `json:"google_login"`
	Chat        bool   `json:"chat"`
}

// handleConfig hands the page what it needs before the first API call:
// map defaults, the browser maps key and which features are enabled.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	var resp configResponse
	resp.Map.Center = s.cfg.MapCenter()
	resp.Map.Zoom = s.cfg.Map.Zoom
	resp.Map.SingleMarkerZoom = s.cfg.Map.SingleMarkerZoom
	resp.Map.APIKey = s.cfg.Map.APIKey
	resp.Timezone = s.schedule.Location().String()
	resp.GoogleLogin = s.oauth != nil
	resp.Chat = s.assistant != nil
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	IsLoggedIn bool `json:"isLoggedIn"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeError(w, http.StatusServiceUnavailable, "Google login is not configured")
		return
	}
	target, err := s.oauth.Begin(w, r)
	if err != nil {
		appLog.Error("oauth login failed", err)
		writeError(w, http.StatusInternalServerError, "failed to start login")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeError(w, http.StatusServiceUnavailable, "Google login is not configured")
		return
	}
	err := s.oauth.Complete(r)
	if err != nil {
		appLog.Error("oauth callback failed", err)
	} else if sess, err := s.oauth.Sessions().Current(r); err == nil {
		s.schedule.Invalidate(sess.ID)
		appLog.Info("google login completed")
	}
	http.Redirect(w, r, s.oauth.RedirectURL(err == nil), http.StatusFound)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	loggedIn := s.oauth != nil && s.oauth.LoggedIn(r)
	writeJSON(w, http.StatusOK, statusResponse{IsLoggedIn: loggedIn})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.oauth != nil {
		if sess, err := s.oauth.Sessions().Current(r); err == nil {
			s.schedule.Invalidate(sess.ID)
			s.panels.Drop(sess.ID)
		}
		if err := s.oauth.Logout(w, r); err != nil {
			appLog.Error("logout failed", err)
			writeError(w, http.StatusInternalServerError, "failed to log out")
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{IsLoggedIn: false})
}

// visitor identifies the browser: its session id ("" without one) and the
// Google calendar when signed in.
func (s *Server) visitor(ctx context.Context, r *http.Request) (string, schedule.UserCalendar) {
	if s.oauth == nil {
		return "", nil
	}
	sess, err := s.oauth.Sessions().Current(r)
	if err != nil {
		if !errors.Is(err, auth.ErrNoSession) {
			appLog.Error("session lookup failed", err)
		}
		return "", nil
	}
	if !sess.Authenticated() {
		return sess.ID, nil
	}

	client, err := s.oauth.Client(ctx, sess)
	if err != nil {
		appLog.Error("oauth client failed", err, "session", sess.ID)
		return sess.ID, nil
	}
	g, err := calendar.NewGoogle(ctx, client, s.cfg.Google.CalendarID, s.cfg.Google.MaxResults, s.cfg.Google.APIEndpoint)
	if err != nil {
		appLog.Error("google calendar client failed", err)
		return sess.ID, nil
	}
	return sess.ID, g
}

// day loads the schedule of date for the request's visitor.
func (s *Server) day(r *http.Request, date string) (string, *schedule.Day, error) {
	ctx := r.Context()
	sid, user := s.visitor(ctx, r)
	d, err := s.schedule.Day(ctx, user, sid, date)
	return sid, d, err
}

// writeScheduleError maps schedule errors to responses.
func writeScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
	case errors.Is(err, schedule.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "User not authenticated")
	default:
		appLog.Error("schedule request failed", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch calendar events")
	}
}

// handleEvents returns the schedule of one day.
//
// GET /api/calendar/events?start_date=2024-05-01
//   - start_date: YYYY-MM-DD, defaults to today in the calendar timezone
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	_, d, err := s.day(r, r.URL.Query().Get("start_date"))
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule.NewResponse(d))
}

// mapResponse is the JSON response shape for /api/map.
type mapResponse struct {
	Date string `json:"date,omitempty"`
	dashboard.View
}

// handleMap synchronises the visitor's map panel with the day's events and
// returns the resulting view. Without anything to show the panel is
// updated with an empty list, which keeps its viewport.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	sid, d, err := s.day(r, r.URL.Query().Get("start_date"))

	key := sid
	if key == "" {
		key = publicPanel
	}
	panel := s.panels.Get(key)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, mapResponse{Date: d.Date, View: panel.Update(d.Events)})
	case errors.Is(err, schedule.ErrNotAuthenticated):
		writeJSON(w, http.StatusOK, mapResponse{View: panel.Update(nil)})
	default:
		writeScheduleError(w, err)
	}
}

type chatRequest struct {
	Message      string `json:"message"`
	SelectedDate string `json:"selected_date"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// handleChat answers a question about the selected day.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "Chat assistant is not configured")
		return
	}

	_, d, err := s.day(r, req.SelectedDate)
	var scheduleContext string
	switch {
	case err == nil:
		scheduleContext = chat.FormatSchedule(d)
	case errors.Is(err, schedule.ErrInvalidDate):
		writeScheduleError(w, err)
		return
	case errors.Is(err, schedule.ErrNotAuthenticated):
		scheduleContext = chat.NotLoggedInContext
	default:
		appLog.Error("chat schedule context unavailable", err)
		scheduleContext = chat.UnavailableContext
	}

	date := req.SelectedDate
	if d != nil {
		date = d.Date
	} else if date == "" {
		date = time.Now().In(s.schedule.Location()).Format(schedule.DateLayout)
	}
	reply, err := s.assistant.Reply(r.Context(), date, scheduleContext, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "Message cannot be empty")
			return
		}
		appLog.Error("chat reply failed", err)
		writeError(w, http.StatusBadGateway, "Failed to get response from AI")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}
