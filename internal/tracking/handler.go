package tracking

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/pkg/httputil"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// EventPublisher is what the tracking endpoints publish through.
type EventPublisher interface {
	PublishOpened(ctx context.Context, emailID, userAgent, ipAddress string) (broker.Receipt, error)
	PublishClicked(ctx context.Context, emailID, userAgent, ipAddress string, metadata map[string]string) (broker.Receipt, error)
}

// Redirects are the click destinations. Stats is used for ?redirect=stats,
// Landing for everything else.
type Redirects struct {
	Stats   string
	Landing string
}

type Handler struct {
	pub       EventPublisher
	redirects Redirects
}

func NewHandler(pub EventPublisher, redirects Redirects) *Handler {
	if redirects.Stats == "" {
		redirects.Stats = "/api/mail/stats"
	}
	if redirects.Landing == "" {
		redirects.Landing = "/"
	}
	return &Handler{pub: pub, redirects: redirects}
}

// Register adds the open pixel and click redirect routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/track/{emailId}", h.HandleOpen)
	r.Get("/click/{emailId}", h.HandleClick)
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailId")

	if _, err := h.pub.PublishOpened(r.Context(), emailID, r.UserAgent(), realIP(r)); err != nil {
		httputil.InternalError(w, err)
		return
	}

	logger.Info("open tracked", "email_id", emailID, "device", detectDevice(r.UserAgent()))
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailId")
	redirect := r.URL.Query().Get("redirect")

	meta := map[string]string{MetaTrackingMethod: MethodImageClick}
	if redirect != "" {
		meta["redirect"] = redirect
	}
	if _, err := h.pub.PublishClicked(r.Context(), emailID, r.UserAgent(), realIP(r), meta); err != nil {
		httputil.InternalError(w, err)
		return
	}

	target := h.redirects.Landing
	if strings.EqualFold(redirect, "stats") {
		target = h.redirects.Stats
	}
	logger.Info("click tracked", "email_id", emailID, "redirect", target)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
