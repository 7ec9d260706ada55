package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/utils"
)

// OwnedFileFinder resolves a file only when the principal owns it.
type OwnedFileFinder interface {
	FindOwned(ctx context.Context, id uuid.UUID, p models.Principal) (*models.UploadedFile, error)
}

type Handler struct {
	hub      *Hub
	secret   string
	files    OwnedFileFinder
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(hub *Hub, secret string, files OwnedFileFinder, allowedOrigins []string, log zerolog.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{
		hub:    hub,
		secret: secret,
		files:  files,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins[origin] || origins["*"]
			},
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

// HandleUploadWebSocket authenticates with ?token= since browsers cannot set
// headers on the upgrade request.
func (h *Handler) HandleUploadWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := utils.VerifyToken(h.secret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	principal, err := claims.Principal()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
		return
	}
	file, err := h.files.FindOwned(c.Request.Context(), id, principal)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	fileID := id.String()
	h.log.Debug().Str("file_id", fileID).Str("user_id", principal.UserID.String()).Msg("upload socket connected")

	client := h.hub.Register(fileID, conn)
	defer h.hub.Unregister(fileID, conn)

	// Late subscribers see the status the row already has. Other sockets on
	// the same file already received it.
	h.hub.SendStatus(client, *file)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.log.Debug().Str("file_id", fileID).Msg("upload socket disconnected")
}
