package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/TriageChat/internal/decision"
	"github.com/BTreeMap/TriageChat/internal/engine"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// ServiceInfo is returned by GET /.
type ServiceInfo struct {
	Name           string   `json:"name"`
	EngineVersion  string   `json:"engine_version"`
	RulesetVersion string   `json:"ruleset_version"`
	Endpoints      []string `json:"endpoints"`
}

var endpoints = []string{
	"GET /healthz",
	"POST /v1/report",
	"POST /v1/sessions",
	"GET /v1/sessions/{id}",
	"DELETE /v1/sessions/{id}",
	"POST /v1/sessions/{id}/messages",
	"GET /v1/sessions/{id}/transcript",
	"POST /webhooks/twilio/whatsapp",
	"GET /metrics",
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(ServiceInfo{
		Name:           "TriageChat",
		EngineVersion:  engine.Version,
		RulesetVersion: decision.RulesetVersion,
		Endpoints:      endpoints,
	}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

// reportHandler handles POST /v1/report, the stateless core boundary. The
// caller holds the conversation state and sends it back every turn; input
// errors are reported inside the output with status 200.
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("Server.reportHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
		return
	}
	out := s.engine.GenerateJSON(r.Context(), raw)
	slog.Debug("Server.reportHandler: turn generated", "ok", out.OK, "path", out.Report.PathOrEmpty())
	writeJSONResponse(w, http.StatusOK, out)
}
