package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/skip2/go-qrcode"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/domain"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	PublicURL      string
	AllowedOrigins []string
	QRSize         int
}

// NewRouter mounts health, websocket, join QR and quiz cache endpoints behind CORS.
func NewRouter(ws *WSHandler, service *app.MatchService, cfg RouterConfig, logger *slog.Logger) http.Handler {
	qr := &qrHandler{service: service, publicURL: strings.TrimRight(cfg.PublicURL, "/"), size: cfg.QRSize, logger: logger}
	if qr.size <= 0 {
		qr.size = 256
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/ws", ws.ServeWS)
	r.HandleFunc("/matches/{code}/qr.png", qr.serve).Methods(http.MethodGet)
	quizzes := &quizHandler{service: service, auth: ws.auth, logger: logger}
	r.HandleFunc("/quizzes/{id}/refresh", quizzes.refresh).Methods(http.MethodPost)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

type qrHandler struct {
	service   *app.MatchService
	publicURL string
	size      int
	logger    *slog.Logger
}

// serve renders a QR code pointing players at the join page of a live match.
func (h *qrHandler) serve(w http.ResponseWriter, r *http.Request) {
	code := app.NormalizeCode(mux.Vars(r)["code"])
	if _, ok := h.service.Registry().Find(code); !ok {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}
	png, err := qrcode.Encode(h.publicURL+"/join/"+code, qrcode.Medium, h.size)
	if err != nil {
		h.logger.Error("qr encode failed", "match", code, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

type quizHandler struct {
	service *app.MatchService
	auth    HostAuthenticator
	logger  *slog.Logger
}

// refresh drops cached content of an edited quiz. Hosts only.
func (h *quizHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var hostID string
	if h.auth != nil {
		hostID, _ = h.auth.HostIdentity(r)
	}
	if hostID == "" {
		http.Error(w, "host token required", http.StatusUnauthorized)
		return
	}
	quizID, err := domain.ParseID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid quiz id", http.StatusBadRequest)
		return
	}
	if err := h.service.RefreshQuiz(r.Context(), hostID, quizID); err != nil {
		h.logger.Error("quiz refresh failed", "quiz", quizID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
