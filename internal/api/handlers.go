package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nghyane/medistream/internal/access"
	"github.com/nghyane/medistream/internal/forms"
	"github.com/nghyane/medistream/internal/json"
	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/upstream"
	"github.com/nghyane/medistream/internal/usage"
	"github.com/nghyane/medistream/internal/util"
)

const maxRequestBody = 1 << 20

func (s *Server) handleConsultation(c *gin.Context) {
	cfg, _ := s.snapshot()

	body, err := util.ReadLimited(c.Request.Body, maxRequestBody)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
		return
	}
	var visit forms.Visit
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, &visit); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Request body must be a JSON object with string fields"})
		return
	}
	if missing := visit.Validate(); len(missing) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"missing_fields": missing})
		return
	}

	prompt := forms.ConsultationPrompt(visit, cfg.Prompts.Consultation)
	s.stream(c, forms.KindConsultation, prompt, "Error generating summary")
}

func (s *Server) handleIdea(c *gin.Context) {
	cfg, _ := s.snapshot()
	s.stream(c, forms.KindIdea, forms.IdeaPrompt(cfg.Prompts.Idea), "Error generating idea")
}

func (s *Server) handleUsage(c *gin.Context) {
	if s.usage == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Usage recording is disabled"})
		return
	}
	summary, err := s.usage.Summary(c.Request.Context(), access.Subject(c))
	if err != nil {
		log.WithError(err).Error("usage summary failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Usage summary unavailable"})
		return
	}
	resp := gin.H{
		"subject":       summary.Subject,
		"requests":      summary.Requests,
		"failed":        summary.Failed,
		"prompt_tokens": summary.PromptTokens,
		"output_tokens": summary.OutputTokens,
		"output_chars":  summary.OutputChars,
	}
	if !summary.LastRequest.IsZero() {
		resp["last_request"] = summary.LastRequest.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func promptTooLong(kind forms.Kind) string {
	if kind == forms.KindConsultation {
		return "Notes are too long"
	}
	return "Prompt is too long"
}

// stream checks the prompt budget, opens the upstream stream and relays it as SSE.
// Failures before the first byte answer with a JSON 500; later ones with an error
// event.
func (s *Server) stream(c *gin.Context, kind forms.Kind, prompt forms.Prompt, failurePrefix string) {
	cfg, completer := s.snapshot()
	model := cfg.Upstream.Model

	promptTokens := util.CountPromptTokens(model,
		util.PromptMessage{Role: "system", Content: prompt.System},
		util.PromptMessage{Role: "user", Content: prompt.User},
	)
	if limit := cfg.Limits.MaxPromptTokens; limit > 0 && promptTokens > int64(limit) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"detail": fmt.Sprintf("%s: %d tokens, the limit is %d", promptTooLong(kind), promptTokens, limit),
		})
		return
	}

	record := usage.Record{
		Subject:      access.Subject(c),
		Kind:         string(kind),
		Provider:     completer.Name(),
		Model:        model,
		RequestedAt:  time.Now(),
		PromptTokens: promptTokens,
	}
	logger := log.WithFields(log.Fields{"subject": record.Subject, "kind": record.Kind})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	chunks, err := completer.Stream(ctx, upstream.Prompt{System: prompt.System, User: prompt.User, Model: model})
	if err != nil {
		logger.WithError(err).Error("upstream request failed")
		record.Failed = true
		s.usage.Enqueue(record)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": failurePrefix + ": " + err.Error()})
		return
	}

	relay := &relay{c: c, pingInterval: s.pingInterval}
	failed := relay.run(ctx, chunks, failurePrefix)

	record.OutputChars = relay.chars
	record.Failed = failed
	if relay.usage != nil {
		if relay.usage.PromptTokens > 0 {
			record.PromptTokens = relay.usage.PromptTokens
		}
		record.OutputTokens = relay.usage.CompletionTokens
	}
	s.usage.Enqueue(record)
	logger.Debugf("stream finished: %d events, %d chars, failed=%t", relay.events, relay.chars, failed)
}

// relay copies upstream chunks to the client.
type relay struct {
	c            *gin.Context
	sse          *sseWriter
	pingInterval time.Duration

	events int
	chars  int64
	usage  *upstream.Usage
}

func (r *relay) start() {
	h := r.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	r.c.Status(http.StatusOK)
	r.sse = newSSEWriter(r.c.Writer)
}

// run reports whether the stream ended in failure.
func (r *relay) run(ctx context.Context, chunks <-chan upstream.Chunk, failurePrefix string) bool {
	var ping <-chan time.Time
	if r.pingInterval > 0 {
		ticker := time.NewTicker(r.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ping:
			if r.sse != nil {
				if err := r.sse.Comment("ping"); err != nil {
					return true
				}
			}
		case chunk, ok := <-chunks:
			if !ok {
				if r.sse == nil {
					// Empty completion: still answer with a valid, empty stream.
					r.start()
					r.c.Writer.Flush()
				}
				return false
			}
			if chunk.Err != nil {
				log.WithError(chunk.Err).Warn("upstream stream failed")
				msg := failurePrefix + ": " + chunk.Err.Error()
				if r.sse == nil {
					r.c.JSON(http.StatusInternalServerError, gin.H{"detail": msg})
					return true
				}
				_ = r.sse.Error(msg)
				return true
			}
			if chunk.Usage != nil {
				r.usage = chunk.Usage
			}
			if chunk.Text == "" {
				continue
			}
			if r.sse == nil {
				r.start()
			}
			if err := r.sse.Message(chunk.Text); err != nil {
				log.WithError(err).Debug("client went away")
				return true
			}
			r.events++
			r.chars += int64(len([]rune(chunk.Text)))
		}
	}
}
