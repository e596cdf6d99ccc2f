package handler

import (
	"context"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/phishguard-backend/internal/metrics"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/ratelimit"
)

// EventRecorder is the part of service.Recorder the tracking surface needs.
type EventRecorder interface {
	Record(ctx context.Context, tok string, event model.EventKind, meta *model.ClickMeta) (model.Outcome, error)
}

const defaultRecordTimeout = 5 * time.Second

// TrackingHandler serves the public tracking endpoints. Every response is
// benign and identical whether or not the token is known.
type TrackingHandler struct {
	Recorder EventRecorder
	Guard    ratelimit.ProbeGuard
	Logger   *zap.Logger
	// Timeout bounds the recording of one event.
	Timeout time.Duration
}

// NewTrackingHandler creates a TrackingHandler. A nil guard never flags.
func NewTrackingHandler(rec EventRecorder, guard ratelimit.ProbeGuard, logger *zap.Logger) *TrackingHandler {
	if guard == nil {
		guard = ratelimit.NoopGuard{}
	}
	return &TrackingHandler{Recorder: rec, Guard: guard, Logger: logger, Timeout: defaultRecordTimeout}
}

// Pixel is a 1x1 transparent GIF.
var Pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00,
	0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02,
	0x44, 0x01, 0x00, 0x3b,
}

var learnPage = template.Must(template.New("learn").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><meta name="robots" content="noindex"><title>This was a security exercise</title></head>
<body style="font-family:sans-serif;max-width:40em;margin:3em auto;line-height:1.5">
<h1>This was a simulated {{.}}</h1>
<p>Nothing harmful happened. Your organisation runs these exercises to help people recognise attacks.</p>
<ul>
<li>Check the sender address and the real link target before clicking.</li>
<li>Never enter your password on a page you reached from an email or an ad.</li>
<li>When in doubt, report the message to your security team.</li>
</ul>
<p>A short training module may be assigned to you.</p>
</body>
</html>`))

// Routes mounts the tracking endpoints on r.
func (h *TrackingHandler) Routes(r chi.Router) {
	r.Get("/t/o/{token}", h.Open)
	r.Get("/t/c/{token}", h.Click)
	r.Get("/t/c/{alias}/{token}", h.Click)
	r.Post("/t/s/{token}", h.Submit)
	r.Get("/a/v/{token}", h.AdView)
	r.Get("/a/c/{token}", h.AdClick)
}

// Open records an email open and returns the pixel.
func (h *TrackingHandler) Open(w http.ResponseWriter, r *http.Request) {
	tok := strings.TrimSuffix(strings.TrimSuffix(chi.URLParam(r, "token"), ".gif"), ".png")
	h.record(r, tok, model.EventOpened, nil)
	writePixel(w)
}

// Click records a link click and shows the educational page. The optional
// alias segment only makes the link look plausible and is ignored.
func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	h.record(r, chi.URLParam(r, "token"), model.EventClicked, clickMeta(r))
	writeLearnPage(w, "phishing email")
}

// Submit records a credential submission. The body is never read.
func (h *TrackingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.record(r, chi.URLParam(r, "token"), model.EventSubmitted, nil)
	writeLearnPage(w, "phishing email")
}

func (h *TrackingHandler) AdView(w http.ResponseWriter, r *http.Request) {
	h.record(r, chi.URLParam(r, "token"), model.EventOpened, nil)
	writePixel(w)
}

func (h *TrackingHandler) AdClick(w http.ResponseWriter, r *http.Request) {
	h.record(r, chi.URLParam(r, "token"), model.EventClicked, clickMeta(r))
	writeLearnPage(w, "malicious advertisement")
}

// record applies the event whatever the client's history. Unknown tokens
// only feed the per-client miss counters.
func (h *TrackingHandler) record(r *http.Request, tok string, event model.EventKind, meta *model.ClickMeta) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultRecordTimeout
	}
	// The recording outlives a client that hangs up mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	defer cancel()

	outcome, err := h.Recorder.Record(ctx, tok, event, meta)
	if err != nil {
		h.Logger.Error("tracking event not recorded",
			zap.String("event", string(event)),
			zap.Error(err))
		return
	}
	if outcome != model.OutcomeNotFound {
		return
	}

	ip := clientIP(r)
	h.Guard.RecordMiss(ctx, ip)
	if h.Guard.Exceeded(ctx, ip) {
		metrics.ProbeFlagged.Inc()
		h.Logger.Warn("client over unknown-token limit", zap.String("ip", ip))
	}
}

func clickMeta(r *http.Request) *model.ClickMeta {
	return &model.ClickMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

// clientIP expects middleware.RealIP to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(Pixel)
}

func writeLearnPage(w http.ResponseWriter, what string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = learnPage.Execute(w, what)
}
