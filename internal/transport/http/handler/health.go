package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vote-relay/internal/application/listener"
	"github.com/vote-relay/internal/domain"
)

type chainStatus interface {
	Status(chain domain.Chain) (listener.Status, bool)
}

type counter interface {
	Len() int
}

// HealthHandler handles health-check and relay status endpoints.
type HealthHandler struct {
	chains []domain.Chain
	status chainStatus
	conns  counter
	queue  counter
}

func NewHealthHandler(chains []domain.Chain, status chainStatus, conns, queue counter) *HealthHandler {
	return &HealthHandler{chains: chains, status: status, conns: conns, queue: queue}
}

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if action == "ping" {
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
		return
	}
	writeError(w, http.StatusBadRequest, "unknown action")
}

// Status reports each chain's listener state. It answers 503 when no chain is listening.
func (h *HealthHandler) Status(w http.ResponseWriter, _ *http.Request) {
	env := StatusEnvelope{Chains: make(map[string]string, len(h.chains))}
	listening := 0
	for _, c := range h.chains {
		st := "unknown"
		if h.status != nil {
			if s, ok := h.status.Status(c); ok {
				st = string(s)
			}
		}
		if st == string(listener.StatusListening) {
			listening++
		}
		env.Chains[string(c)] = st
	}
	if h.conns != nil {
		env.LiveConnections = h.conns.Len()
	}
	if h.queue != nil {
		env.RetryQueueDepth = h.queue.Len()
	}
	code := http.StatusOK
	if len(h.chains) > 0 && listening == 0 {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, env)
}
