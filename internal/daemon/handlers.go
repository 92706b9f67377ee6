package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/metraton/warden/internal/episode"
	"github.com/metraton/warden/internal/model"
	"github.com/metraton/warden/internal/policy"
	"github.com/metraton/warden/internal/uds"
)

// registerHandlers wires all UDS command handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", d.handlePing)
	d.server.Handle("evaluate.bash", d.handleEvaluateBash)
	d.server.Handle("evaluate.delegation", d.handleEvaluateDelegation)
	d.server.Handle("episode.record_plan", d.handleRecordPlan)
	d.server.Handle("episode.approve", d.handleApprove)
	d.server.Handle("episode.reject", d.handleReject)
	d.server.Handle("episode.list", d.handleEpisodeList)
	d.server.Handle("rules.reload", d.handleRulesReload)
	d.server.Handle("shutdown", d.handleShutdown)
}

func (d *Daemon) handlePing(req *uds.Request) *uds.Response {
	return uds.SuccessResponse(map[string]any{
		"status":   "ok",
		"pid":      os.Getpid(),
		"rules":    d.core.Classifier.RuleCount(),
		"checksum": d.core.Classifier.Checksum(),
	})
}

type evaluateBashParams struct {
	Command   string `json:"command"`
	EpisodeID string `json:"episode_id,omitempty"`
}

func (d *Daemon) handleEvaluateBash(req *uds.Request) *uds.Response {
	var params evaluateBashParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Command == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "command is required")
	}

	dec := d.core.EvaluateBash(params.Command, policy.BashContext{EpisodeID: params.EpisodeID})
	d.log(LogLevelDebug, "evaluate.bash decision=%s tier=%s", dec.Outcome, dec.Tier)
	return uds.SuccessResponse(dec)
}

func (d *Daemon) handleEvaluateDelegation(req *uds.Request) *uds.Response {
	var delReq model.DelegationRequest
	if err := json.Unmarshal(req.Params, &delReq); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}

	// Structural problems surface as block decisions, not protocol
	// errors: the caller always gets a verdict it can enforce.
	dec := d.core.EvaluateDelegation(delReq)
	d.log(LogLevelDebug, "evaluate.delegation kind=%s decision=%s tier=%s", delReq.Kind, dec.Outcome, dec.Tier)
	return uds.SuccessResponse(dec)
}

type recordPlanParams struct {
	Persona string `json:"persona"`
	Plan    string `json:"plan"`
}

func (d *Daemon) handleRecordPlan(req *uds.Request) *uds.Response {
	var params recordPlanParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Plan == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "plan is required")
	}

	ep, err := d.core.Engine.RecordPlan(params.Persona, params.Plan)
	if err != nil {
		if errors.Is(err, policy.ErrUnknownPersona) {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
		d.log(LogLevelError, "episode.record_plan error=%v", err)
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}

	d.log(LogLevelInfo, "episode %s opened persona=%s digest=%s", ep.ID, ep.Persona, shortChecksum(ep.PlanDigest))
	return uds.SuccessResponse(ep)
}

type confirmParams struct {
	EpisodeID  string `json:"episode_id"`
	Actor      string `json:"actor"`
	PlanDigest string `json:"plan_digest,omitempty"`
	EventID    string `json:"event_id,omitempty"`
}

func (d *Daemon) handleApprove(req *uds.Request) *uds.Response {
	return d.decide(req, true)
}

func (d *Daemon) handleReject(req *uds.Request) *uds.Response {
	return d.decide(req, false)
}

func (d *Daemon) decide(req *uds.Request, approved bool) *uds.Response {
	var params confirmParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	// Shape check before any ledger access.
	if !model.ValidateEpisodeID(params.EpisodeID) {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("malformed episode id %q", params.EpisodeID))
	}
	if params.EventID == "" {
		params.EventID = uuid.New().String()
	}

	ep, err := d.core.Engine.Decide(model.Confirmation{
		EventID:    params.EventID,
		EpisodeID:  params.EpisodeID,
		Actor:      params.Actor,
		PlanDigest: params.PlanDigest,
		Approved:   approved,
		At:         time.Now().UTC(),
	})
	if err != nil {
		return episodeErrorResponse(err)
	}

	d.log(LogLevelInfo, "episode %s %s by %s event=%s", ep.ID, ep.State, ep.DecidedBy, ep.DecisionEvent)
	return uds.SuccessResponse(ep)
}

// episodeErrorResponse maps ledger errors onto protocol error codes.
func episodeErrorResponse(err error) *uds.Response {
	switch {
	case errors.Is(err, episode.ErrNotFound):
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	case errors.Is(err, episode.ErrAlreadyDecided):
		return uds.ErrorResponse(uds.ErrCodeAlreadyDecided, err.Error())
	case errors.Is(err, episode.ErrExpired):
		return uds.ErrorResponse(uds.ErrCodeExpired, err.Error())
	case errors.Is(err, episode.ErrDigestMismatch), errors.Is(err, episode.ErrUnattributed):
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}

type episodeListParams struct {
	State string `json:"state,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (d *Daemon) handleEpisodeList(req *uds.Request) *uds.Response {
	var params episodeListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
		}
	}
	if params.State != "" && !model.ApprovalState(params.State).Valid() {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("unknown state %q", params.State))
	}

	eps, err := d.core.Episodes.List(episode.ListFilter{
		State: model.ApprovalState(params.State),
		Limit: params.Limit,
	})
	if err != nil {
		d.log(LogLevelError, "episode.list error=%v", err)
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}

	return uds.SuccessResponse(map[string]any{
		"episodes": eps,
		"count":    len(eps),
	})
}

// handleRulesReload forces a reload regardless of file mtime. A table
// that fails to compile leaves the serving table in place.
func (d *Daemon) handleRulesReload(req *uds.Request) *uds.Response {
	table, err := d.core.Loader.Load()
	if err != nil {
		d.log(LogLevelWarn, "rules.reload rejected: %v", err)
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("rule table rejected: %v", err))
	}
	d.core.Classifier.SetTable(table)
	d.log(LogLevelInfo, "rule table reloaded by request rules=%d checksum=%s",
		table.RuleCount(), shortChecksum(table.Checksum()))

	return uds.SuccessResponse(map[string]any{
		"rules":            table.RuleCount(),
		"delegation_rules": table.DelegationRuleCount(),
		"checksum":         table.Checksum(),
	})
}

func (d *Daemon) handleShutdown(req *uds.Request) *uds.Response {
	d.log(LogLevelInfo, "shutdown requested over socket")
	go d.Shutdown()
	return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
}
