package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metraton/warden/internal/model"
)

func newTask(persona, prompt string) model.DelegationRequest {
	return model.DelegationRequest{Kind: model.DelegationNewTask, Persona: persona, Prompt: prompt}
}

func resume(id string) model.DelegationRequest {
	return model.DelegationRequest{Kind: model.DelegationResume, EpisodeID: id, Prompt: "continue"}
}

func TestEvaluateDelegation_UnknownPersona(t *testing.T) {
	e := newTestEngine(t, nil)

	d := e.EvaluateDelegation(newTask("unregistered-agent", "tidy the repo"))
	assert.Equal(t, model.OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reason, "unknown persona")
	assert.Contains(t, d.Reason, "unregistered-agent")
}

func TestEvaluateDelegation_TierInference(t *testing.T) {
	e := newTestEngine(t, nil)

	tests := []struct {
		name        string
		req         model.DelegationRequest
		wantOutcome model.Outcome
		wantTier    model.Tier
		wantReason  string
	}{
		{
			name:        "read work for read persona",
			req:         newTask("researcher", "investigate the flaky scheduler test"),
			wantOutcome: model.OutcomeAllow,
			wantTier:    model.TierRead,
		},
		{
			name:        "realize work allows planning only",
			req:         newTask("builder", "deploy the api to production"),
			wantOutcome: model.OutcomeAllow,
			wantTier:    model.TierRealize,
			wantReason:  "planning only",
		},
		{
			name:        "realize work exceeds default cap",
			req:         newTask("tester", "deploy the api to production"),
			wantOutcome: model.OutcomeBlock,
			wantTier:    model.TierRealize,
			wantReason:  "capped at tier simulate",
		},
		{
			name:        "realize work exceeds read cap",
			req:         newTask("researcher", "migrate the users table"),
			wantOutcome: model.OutcomeBlock,
			wantTier:    model.TierRealize,
			wantReason:  "capped at tier read",
		},
		{
			name:        "no keyword falls back to validate",
			req:         newTask("tester", "look after the linting setup"),
			wantOutcome: model.OutcomeAllow,
			wantTier:    model.TierValidate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.EvaluateDelegation(tt.req)
			assert.Equal(t, tt.wantOutcome, d.Outcome)
			assert.Equal(t, tt.wantTier, d.Tier)
			if tt.wantReason != "" {
				assert.Contains(t, d.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateDelegation_StructuralValidation(t *testing.T) {
	e := newTestEngine(t, nil)

	d := e.EvaluateDelegation(model.DelegationRequest{Kind: model.DelegationNewTask, Persona: "builder"})
	assert.Equal(t, model.OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reason, "requires a prompt")

	d = e.EvaluateDelegation(model.DelegationRequest{Kind: "sideways"})
	assert.Equal(t, model.OutcomeBlock, d.Outcome)

	d = e.EvaluateDelegation(model.DelegationRequest{Kind: model.DelegationResume})
	assert.Equal(t, model.OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reason, "requires an episode_id")
}

func TestEvaluateDelegation_ResumeConsumesOnce(t *testing.T) {
	e := newTestEngine(t, nil)
	ep := recordApproved(t, e, "1. stop the old worker\n2. deploy the new one")

	first := e.EvaluateDelegation(resume(ep.ID))
	assert.Equal(t, model.OutcomeAllow, first.Outcome)
	assert.Equal(t, model.TierRealize, first.Tier)
	assert.Contains(t, first.Reason, ep.ID)

	// Replaying the same approval is blocked.
	second := e.EvaluateDelegation(resume(ep.ID))
	assert.Equal(t, model.OutcomeBlock, second.Outcome)
	assert.Contains(t, second.Reason, "already consumed")
}

func TestEvaluateDelegation_ResumeRequiresApprovedEpisode(t *testing.T) {
	e := newTestEngine(t, nil)

	// Unapproved.
	pending, err := e.RecordPlan("builder", "retire the old queue")
	require.NoError(t, err)
	d := e.EvaluateDelegation(resume(pending.ID))
	assert.Equal(t, model.OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reason, "awaits approval")

	// Rejected.
	refused, err := e.RecordPlan("builder", "drop the analytics schema")
	require.NoError(t, err)
	_, err = e.episodes.Decide(model.Confirmation{
		EventID: "evt-no", EpisodeID: refused.ID, Actor: "reviewer", Approved: false,
	})
	require.NoError(t, err)
	d = e.EvaluateDelegation(resume(refused.ID))
	assert.Equal(t, model.OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reason, "rejected")

	// Absent.
	d = e.EvaluateDelegation(resume("a000000"))
	assert.Equal(t, model.OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reason, "not found")
}

func TestEvaluateDelegation_MalformedIDNeverTouchesLedger(t *testing.T) {
	e := newTestEngine(t, &failingStore{t: t})

	for _, id := range []string{"not-a-valid-shape", "b1b2c3d", "a12345", "a1b2c3d4e", "A1B2C3D"} {
		d := e.EvaluateDelegation(resume(id))
		assert.Equal(t, model.OutcomeBlock, d.Outcome)
		assert.Contains(t, d.Reason, "malformed episode id")
	}
}

func TestEvaluateDelegation_ExpiredEpisodeNeverResumes(t *testing.T) {
	e := newTestEngine(t, nil)
	ep := recordApproved(t, e, "swap the load balancer")

	e.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	d := e.EvaluateDelegation(resume(ep.ID))
	assert.Equal(t, model.OutcomeBlock, d.Outcome)
	assert.Contains(t, d.Reason, "expired")
}

func TestRecordPlan(t *testing.T) {
	e := newTestEngine(t, nil)

	ep, err := e.RecordPlan("builder", "1. delete the stale branches")
	require.NoError(t, err)
	assert.True(t, model.ValidateEpisodeID(ep.ID))
	assert.Equal(t, model.ApprovalUnapproved, ep.State)
	assert.Equal(t, model.TierRealize, ep.Tier)
	assert.Equal(t, model.DigestPlan("1. delete the stale branches"), ep.PlanDigest)

	stored, err := e.episodes.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.ID, stored.ID)

	_, err = e.RecordPlan("nobody", "anything")
	assert.ErrorIs(t, err, ErrUnknownPersona)

	_, err = e.RecordPlan("builder", "")
	assert.Error(t, err)
}

func TestSweepExpired(t *testing.T) {
	e := newTestEngine(t, nil)

	staleID, err := model.GenerateEpisodeID()
	require.NoError(t, err)
	require.NoError(t, e.episodes.Create(&model.Episode{
		ID:         staleID,
		Persona:    "builder",
		Tier:       model.TierRealize,
		State:      model.ApprovalUnapproved,
		Plan:       "stale plan",
		PlanDigest: model.DigestPlan("stale plan"),
		CreatedAt:  time.Now().Add(-25 * time.Hour),
	}))

	fresh, err := e.RecordPlan("builder", "fresh plan")
	require.NoError(t, err)

	purged, err := e.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = e.episodes.Get(staleID)
	assert.Error(t, err)
	_, err = e.episodes.Get(fresh.ID)
	assert.NoError(t, err)
}
