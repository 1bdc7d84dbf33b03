package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithRegistry(registry), WithNamespace("test"), WithSubsystem("ledger"))

		Convey("When operations are observed", func() {
			m.ObserveOperation("submit_score", nil, 2*time.Millisecond)
			m.ObserveOperation("submit_score", domain.ErrInvalidScore, time.Millisecond)
			m.ObserveOperation("submit_score", fmt.Errorf("commit: %w", store.ErrConflict), time.Millisecond)

			Convey("Then each outcome is counted separately", func() {
				So(testutil.ToFloat64(m.operations.WithLabelValues("submit_score", OutcomeOK)), ShouldEqual, 1)
				So(testutil.ToFloat64(m.operations.WithLabelValues("submit_score", OutcomeRejected)), ShouldEqual, 1)
				So(testutil.ToFloat64(m.operations.WithLabelValues("submit_score", OutcomeConflict)), ShouldEqual, 1)
			})
		})

		Convey("When a snapshot is published", func() {
			top := domain.Identity("alice")
			m.SetSnapshot(domain.LeaderboardSnapshot{TotalPlayers: 2, TotalGames: 3, TopScore: 150, TopPlayer: &top})
			m.IncPersonalBest()
			m.IncTopScoreChange()

			Convey("Then the gauges and counters reflect it", func() {
				So(testutil.ToFloat64(m.totalPlayers), ShouldEqual, 2)
				So(testutil.ToFloat64(m.totalGames), ShouldEqual, 3)
				So(testutil.ToFloat64(m.topScore), ShouldEqual, 150)
				So(testutil.ToFloat64(m.personalBests), ShouldEqual, 1)
				So(testutil.ToFloat64(m.topScoreChanges), ShouldEqual, 1)
			})

			Convey("Then the handler exposes them", func() {
				rec := httptest.NewRecorder()
				m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(strings.Contains(rec.Body.String(), "test_ledger_top_score 150"), ShouldBeTrue)
			})
		})
	})

	Convey("Given a nil manager", t, func() {
		var m *Manager

		Convey("Then recording is a no-op", func() {
			So(func() {
				m.ObserveOperation("initialize", nil, time.Millisecond)
				m.IncPersonalBest()
				m.IncTopScoreChange()
				m.SetSnapshot(domain.LeaderboardSnapshot{})
			}, ShouldNotPanic)
		})
	})
}

func TestOutcome(t *testing.T) {
	Convey("Outcome classifies errors", t, func() {
		So(Outcome(nil), ShouldEqual, OutcomeOK)
		So(Outcome(domain.ErrUnauthorized), ShouldEqual, OutcomeRejected)
		So(Outcome(domain.ErrLeaderboardNotInitialized), ShouldEqual, OutcomeRejected)
		So(Outcome(store.ErrConflict), ShouldEqual, OutcomeConflict)
		So(Outcome(errors.New("disk full")), ShouldEqual, OutcomeError)
	})
}
