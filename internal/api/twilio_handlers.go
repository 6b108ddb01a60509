package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/TriageChat/internal/messaging"
	"github.com/BTreeMap/TriageChat/internal/models"
	"github.com/BTreeMap/TriageChat/internal/store"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// twilioWebhookHandler handles inbound WhatsApp messages from Twilio. The
// reply is queued in the outbox and the webhook is acknowledged with empty
// TwiML, so Twilio retries never run a turn twice.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid form", "error", err)
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if s.validator != nil {
		if !s.validator.Validate(s.publicURL(r), r.PostForm, r.Header.Get(twilioSignatureHeader)) {
			slog.Warn("Server.twilioWebhookHandler: signature rejected", "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := r.PostForm.Get("From")
	text := r.PostForm.Get("Body")
	sid := r.PostForm.Get("MessageSid")
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	phone, err := messaging.CanonicalizeWhatsAppNumber(from)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: bad sender", "from", from, "error", err)
		http.Error(w, "invalid From", http.StatusBadRequest)
		return
	}

	if sid != "" {
		fresh, err := s.st.RecordInbound(sid, phone)
		if err != nil {
			slog.Error("Server.twilioWebhookHandler: dedup failed", "error", err, "sid", sid)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !fresh {
			slog.Info("Server.twilioWebhookHandler: duplicate delivery ignored", "sid", sid)
			writeTwiML(w)
			return
		}
	}

	unlock := s.lockKey(string(models.ChannelWhatsApp) + ":" + phone)
	defer unlock()

	sess, err := s.whatsAppSession(phone)
	if err != nil {
		slog.Error("Server.twilioWebhookHandler: session lookup failed", "error", err, "from", phone)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	text = clampText(text, models.MaxChatTextLength)
	out, err := s.runSessionTurn(r.Context(), sess, text, false)
	if err != nil {
		slog.Error("Server.twilioWebhookHandler: turn failed", "error", err, "sessionID", sess.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if reply := out.Report.Chat.Message(); out.OK && reply != "" {
		if s.sender == nil {
			slog.Warn("Server.twilioWebhookHandler: no sender configured, reply dropped", "sessionID", sess.ID)
		} else {
			dedupeKey := ""
			if sid != "" {
				dedupeKey = sid + ":reply"
			}
			if _, err := s.st.EnqueueOutboxMessage(sess.ID, phone, reply, dedupeKey); err != nil {
				slog.Error("Server.twilioWebhookHandler: enqueue failed", "error", err, "sessionID", sess.ID)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}
	}
	if sid != "" {
		if err := s.st.MarkProcessed(sid); err != nil {
			slog.Warn("Server.twilioWebhookHandler: mark processed failed", "error", err, "sid", sid)
		}
	}
	writeTwiML(w)
}

// clampText drops invalid UTF-8 and cuts text to at most limit bytes without
// splitting a character.
func clampText(text string, limit int) string {
	text = strings.ToValidUTF8(text, "")
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// whatsAppSession returns the conversation for phone. A finished
// conversation starts over unless it ended under the safety lock, which
// stays in effect for that number.
func (s *Server) whatsAppSession(phone string) (models.Session, error) {
	sess, err := s.st.FindSessionByExternalID(models.ChannelWhatsApp, phone)
	switch {
	case err == nil && !(sess.State.IsDone() && !sess.State.IsLocked()):
		return sess, nil
	case err != nil && !errors.Is(err, store.ErrSessionNotFound):
		return sess, err
	}
	sess = newSession(models.ChannelWhatsApp, phone, nil)
	if err := s.st.CreateSession(sess); err != nil {
		return sess, err
	}
	slog.Info("Server.whatsAppSession: session created", "sessionID", sess.ID, "from", phone)
	return sess, nil
}

// publicURL is the URL Twilio signed: the configured webhook URL, or the
// request URL as seen through any proxy.
func (s *Server) publicURL(r *http.Request) string {
	if s.webhookURL != "" {
		return s.webhookURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
