package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New()

	r.DisputeCreated("bounty")
	r.DisputeCreated("bounty")
	r.DisputeCreated("milestone")
	r.VoteCast("favor_plaintiff")
	r.DisputeClosed("expired")
	r.Payout("bounty", 100)
	r.Payout("bounty", 0)
	r.OutboxFailed("DisputeVote", true)

	require.Equal(t, 2.0, testutil.ToFloat64(r.disputesCreated.WithLabelValues("bounty")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.disputesCreated.WithLabelValues("milestone")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.votesCast.WithLabelValues("favor_plaintiff")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.disputesClosed.WithLabelValues("expired")))
	require.Equal(t, 100.0, testutil.ToFloat64(r.payoutAmount.WithLabelValues("bounty")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.outboxFailed.WithLabelValues("DisputeVote", "true")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.DisputeCreated("bounty")
	r.VoteCast("split")
	r.DisputeClosed("resolved")
	r.ResolutionExecuted("split")
	r.Payout("milestone", 5)
	r.OutboxPublished("DisputeVote")
	r.OutboxFailed("DisputeVote", false)
	r.SweepResolved()
	require.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.SweepResolved()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "guildcourt_sweeper_resolved_total 1"))
}
