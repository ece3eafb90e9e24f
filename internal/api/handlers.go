package api

import (
	"context"
	"net/http"

	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/internal/pipeline"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runContext keeps request values but not cancellation: a started batch
// runs to completion even if the client disconnects.
func runContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

type prospectsInput struct {
	ClientID   string `json:"client_id"`
	ProspectID string `json:"prospect_id"`
	Language   string `json:"language"`
}

func (s *Server) handleProcessProspects(w http.ResponseWriter, r *http.Request) {
	var in prospectsInput
	if err := decodeInput(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	claims, err := s.auth.Validate(r.Header.Get("Authorization"), in.ClientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := requireFields(field{"prospect_id", in.ProspectID}, field{"language", in.Language}); err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.runner.TransformAndWriteBack(runContext(r), in.ProspectID, in.Language)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       summary.Message,
		"success_count": summary.Succeeded,
		"summary":       summary,
		"auth":          claims,
	})
}

func (s *Server) handleToggleCampaigns(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.ToggleStatusPass(runContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":               true,
		"message":               summary.Message,
		"activated_campaigns":   summary.Activated,
		"deactivated_campaigns": summary.Deactivated,
		"summary":               summary,
	})
}

type adminInput struct {
	AgentID   string `json:"agent_id"`
	CallID    string `json:"call_id"`
	ClientID  string `json:"client_id"`
	IsPremium bool   `json:"is_premium"`
}

func (s *Server) handleAdminVocallabs(w http.ResponseWriter, r *http.Request) {
	var in adminInput
	if err := decodeInput(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := requireFields(field{"agent_id", in.AgentID}, field{"call_id", in.CallID}); err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.runner.EvaluateCall(runContext(r), in.AgentID, in.CallID, in.IsPremium)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": summary.Message,
		"summary": summary,
	})
}

type evaluateInput struct {
	ClientID  string `json:"client_id"`
	AgentID   string `json:"agent_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	IsPremium bool   `json:"is_premium"`
}

func (s *Server) handleEvaluateCalls(w http.ResponseWriter, r *http.Request) {
	var in evaluateInput
	if err := decodeInput(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.auth.Validate(r.Header.Get("Authorization"), in.ClientID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := requireFields(field{"agent_id", in.AgentID}); err != nil {
		writeError(w, r, err)
		return
	}

	from, err := model.ParseTimestamp(in.From)
	if err != nil {
		writeError(w, r, &badRequest{msg: "invalid from: " + err.Error()})
		return
	}
	to, err := model.ParseTimestamp(in.To)
	if err != nil {
		writeError(w, r, &badRequest{msg: "invalid to: " + err.Error()})
		return
	}

	summary, err := s.runner.EvaluateAndWriteBack(runContext(r), in.AgentID, pipeline.DateRange{From: from, To: to}, in.IsPremium)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": summary.Message,
		"summary": summary,
	})
}
