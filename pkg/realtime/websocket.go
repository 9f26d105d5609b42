package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"studyai/pkg/domain"
)

const writeTimeout = 10 * time.Second

// TokenVerifier resolves a bearer token to its user id.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
}

// OwnerLookup resolves the user owning a chapter.
type OwnerLookup interface {
	GetChapterOwner(ctx context.Context, chapterID string) (domain.ChapterOwner, bool, error)
}

// HandlerConfig configures the websocket endpoint.
type HandlerConfig struct {
	Hub            *Hub
	Tokens         TokenVerifier
	Owners         OwnerLookup
	OriginPatterns []string
	Logger         *slog.Logger
}

// NewHandler upgrades GET /realtime?chapter_id=&access_token= and streams the
// chapter's change events until either side goes away.
func NewHandler(cfg HandlerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chapterID := r.URL.Query().Get("chapter_id")
		token := r.URL.Query().Get("access_token")
		if chapterID == "" || token == "" {
			http.Error(w, "chapter_id and access_token required", http.StatusBadRequest)
			return
		}
		userID, err := cfg.Tokens.VerifySubject(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		owner, ok, err := cfg.Owners.GetChapterOwner(r.Context(), chapterID)
		if err != nil {
			logger.Error("realtime owner lookup failed", "chapter_id", chapterID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok || owner.UserID != userID {
			http.Error(w, "chapter not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: cfg.OriginPatterns})
		if err != nil {
			logger.Warn("realtime accept failed", "err", err)
			return
		}
		defer conn.CloseNow()

		sub := cfg.Hub.Subscribe(chapterID)
		defer sub.Close()

		// Clients never send; CloseRead handles control frames and cancels on close.
		ctx := conn.CloseRead(r.Context())
		err = stream(ctx, conn, sub)
		switch {
		case sub.Dropped():
			conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
		case err == nil || errors.Is(err, context.Canceled):
			conn.Close(websocket.StatusNormalClosure, "")
		default:
			logger.Debug("realtime stream ended", "chapter_id", chapterID, "err", err)
		}
	})
}

func stream(ctx context.Context, conn *websocket.Conn, sub *Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.C:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, evt)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
