package gateway

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/buzzboard/buzzboard/internal/roomcode"
)

// QRHandler serves a scannable join link for a room, for the host
// display to put next to the room code.
type QRHandler struct {
	// JoinBaseURL is the player app address; the room code is appended
	// as a query parameter.
	JoinBaseURL string
	Size        int
}

// NewQRHandler builds the handler with the given join URL base.
func NewQRHandler(joinBaseURL string) *QRHandler {
	return &QRHandler{JoinBaseURL: joinBaseURL, Size: 256}
}

// ServeHTTP renders a PNG QR code for ?room=CODE.
func (h *QRHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := roomcode.Normalize(r.URL.Query().Get("room"))
	if err := roomcode.Validate(code); err != nil {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}

	joinURL := fmt.Sprintf("%s?room=%s", h.JoinBaseURL, url.QueryEscape(code))
	png, err := qrcode.Encode(joinURL, qrcode.Medium, h.Size)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("QR encode failed")
		http.Error(w, "QR generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := w.Write(png); err != nil {
		log.Error().Err(err).Msg("failed to write QR response")
	}
}
