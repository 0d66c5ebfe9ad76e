package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/feed"
	"github.com/onnwee/chatcaster/resolver"
	"github.com/onnwee/chatcaster/speech"
	"github.com/onnwee/chatcaster/telemetry"
)

type refRequest struct {
	Ref string `json:"ref"`
}

type textRequest struct {
	Text string `json:"text"`
}

type blacklistRequest struct {
	Entries []string `json:"entries"`
}

type resolveResponse struct {
	SourceRef  string    `json:"source_ref"`
	VideoID    string    `json:"video_id"`
	WatchURL   string    `json:"watch_url"`
	Method     string    `json:"method,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func decodeRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return "", false
	}
	return ref, true
}

// HandleConnect starts resolving and connecting in the background. Progress
// and failures are reported on the event stream.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	ref, ok := decodeRef(w, r)
	if !ok {
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("connect requested", slog.String("ref", ref), slog.String("component", "http"))
	h.ctl.ConnectRefAsync(ref)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting", "ref": ref})
}

// HandleResolve resolves a reference without connecting.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ref, ok := decodeRef(w, r)
	if !ok {
		return
	}
	res, err := h.ctl.Resolve(r.Context(), ref)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resolveResponse{
			SourceRef:  res.SourceRef,
			VideoID:    res.VideoID,
			WatchURL:   res.WatchURL(),
			Method:     res.Method,
			ResolvedAt: res.ResolvedAt,
		})
	case errors.Is(err, resolver.ErrNetwork):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, resolver.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.ctl.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// HandleSpeech queues text for speech. It answers 409 while speech is
// disabled.
func (h *Handlers) HandleSpeech(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if !h.ctl.EnqueueSpeech(req.Text) {
		writeError(w, http.StatusConflict, "speech is disabled")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// HandleSpeechTest enables speech and speaks a sample sentence.
func (h *Handlers) HandleSpeechTest(w http.ResponseWriter, r *http.Request) {
	req := textRequest{Text: "Xin chào, đây là giọng đọc thử"}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.ctl.TestVoice(req.Text); err != nil {
		writeSpeechError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handlers) HandleSpeechSettingsGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.ctl.SpeechSettings()
	if err != nil {
		writeSpeechError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleSpeechSettingsPut replaces all speech settings. Volume is clamped
// to [0, 1].
func (h *Handlers) HandleSpeechSettingsPut(w http.ResponseWriter, r *http.Request) {
	var s speech.SettingsSnapshot
	if err := decodeJSON(r, &s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ctl.UpdateSpeechSettings(s); err != nil {
		writeSpeechError(w, err)
		return
	}
	h.HandleSpeechSettingsGet(w, r)
}

func writeSpeechError(w http.ResponseWriter, err error) {
	if errors.Is(err, feed.ErrSpeechUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handlers) HandleBlacklistGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, blacklistRequest{Entries: h.ctl.Blacklist()})
}

// HandleBlacklistPut saves and activates a new blacklist.
func (h *Handlers) HandleBlacklistPut(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ctl.SaveBlacklist(req.Entries); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.HandleBlacklistGet(w, r)
}

func (h *Handlers) HandleBlacklistReload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.ReloadBlacklist(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.HandleBlacklistGet(w, r)
}

func (h *Handlers) HandleSlangReload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.ReloadSlang(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMessages returns archived messages for video_id (default: the
// current video).
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	videoID := r.URL.Query().Get("video_id")
	if videoID == "" {
		videoID = h.ctl.Status().VideoID
	}
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "video_id is required")
		return
	}
	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	msgs, err := h.history.RecentMessages(r.Context(), videoID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
