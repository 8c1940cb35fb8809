package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/vigil/internal/config"
	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/eventbus"
	"github.com/semmidev/vigil/internal/status"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

type fakeController struct {
	mu         sync.Mutex
	running    bool
	triggered  []string
	triggerErr error
	shutdowns  int
}

func (f *fakeController) StartScheduler() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return domain.ErrSchedulerRunning
	}
	f.running = true
	return nil
}

func (f *fakeController) StopScheduler(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return domain.ErrSchedulerStopped
	}
	f.running = false
	return nil
}

func (f *fakeController) TriggerJob(ctx context.Context, name string) (domain.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerErr != nil {
		return domain.JobRun{}, f.triggerErr
	}
	f.triggered = append(f.triggered, name)
	return domain.JobRun{Job: name, Outcome: domain.OutcomeSuccess, Trigger: domain.TriggerManual}, nil
}

func (f *fakeController) RequestShutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

func (f *fakeController) Triggered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggered...)
}

func (f *fakeController) failTriggers(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerErr = err
}

func (f *fakeController) Shutdowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func call(ts *httptest.Server, method, path string) (int, response) {
	req, err := http.NewRequest(method, ts.URL+path, nil)
	So(err, ShouldBeNil)
	resp, err := http.DefaultClient.Do(req)
	So(err, ShouldBeNil)
	defer resp.Body.Close()

	var body response
	So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
	return resp.StatusCode, body
}

func recordRun(store *status.Store, job string, ok bool, started time.Time) {
	run := domain.JobRun{
		ID:       fmt.Sprintf("%s-%d", job, started.Unix()),
		Job:      job,
		Started:  started,
		Finished: started.Add(time.Minute),
		Outcome:  domain.OutcomeSuccess,
		Bytes:    3 * 1024 * 1024,
	}
	if !ok {
		run.Outcome = domain.OutcomeFailure
		run.Kind = domain.KindDump
		run.Error = "dump app: boom"
		run.Bytes = 0
	}
	store.Record(run)
}

func TestServer(t *testing.T) {
	Convey("Given a dashboard", t, func() {
		store := status.New(10)
		events := eventbus.New(10, 16)
		defer events.Close()
		ctl := &fakeController{}

		store.RegisterJobs([]domain.JobSpec{
			{Name: "nightly", Target: domain.DatabaseTarget{Name: "primary"}, Schedule: domain.Every(1, domain.UnitDays)},
			{Name: "hourly", Target: domain.DatabaseTarget{Name: "primary"}, Schedule: domain.Every(1, domain.UnitHours)},
		})
		base := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
		recordRun(store, "nightly", true, base)
		recordRun(store, "hourly", false, base.Add(time.Hour))
		recordRun(store, "nightly", true, base.Add(2*time.Hour))
		store.SetNextDue("hourly", base.Add(3*time.Hour))

		srv, err := New(config.WebConfig{}, store, events, ctl, nopLogger{})
		So(err, ShouldBeNil)
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		Convey("GET /api/status should report the aggregates", func() {
			code, body := call(ts, http.MethodGet, "/api/status")
			So(code, ShouldEqual, http.StatusOK)
			So(body.Success, ShouldBeTrue)

			var view struct {
				Counters    status.Counters `json:"counters"`
				SuccessRate float64         `json:"success_rate"`
				TotalSizeMB float64         `json:"total_size_mb"`
				NextRun     *time.Time      `json:"next_run"`
				Jobs        []struct {
					Name string `json:"name"`
				} `json:"jobs"`
			}
			So(json.Unmarshal(body.Data, &view), ShouldBeNil)
			So(view.Counters.TotalRuns, ShouldEqual, 3)
			So(view.SuccessRate, ShouldEqual, 66.7)
			So(view.TotalSizeMB, ShouldEqual, 6)
			So(view.NextRun.Equal(base.Add(3*time.Hour)), ShouldBeTrue)
			So(len(view.Jobs), ShouldEqual, 2)
		})

		Convey("GET /api/history should list runs newest first", func() {
			code, body := call(ts, http.MethodGet, "/api/history")
			So(code, ShouldEqual, http.StatusOK)
			var runs []domain.JobRun
			So(json.Unmarshal(body.Data, &runs), ShouldBeNil)
			So(len(runs), ShouldEqual, 3)
			So(runs[0].Started.Equal(base.Add(2*time.Hour)), ShouldBeTrue)
			So(runs[2].Started.Equal(base), ShouldBeTrue)

			Convey("And filter by job with a limit", func() {
				_, body := call(ts, http.MethodGet, "/api/history?job=nightly&limit=1")
				var runs []domain.JobRun
				So(json.Unmarshal(body.Data, &runs), ShouldBeNil)
				So(len(runs), ShouldEqual, 1)
				So(runs[0].Started.Equal(base.Add(2*time.Hour)), ShouldBeTrue)
			})

			Convey("And reject unknown jobs and bad limits", func() {
				code, _ := call(ts, http.MethodGet, "/api/history?job=nope")
				So(code, ShouldEqual, http.StatusNotFound)
				code, body := call(ts, http.MethodGet, "/api/history?limit=-1")
				So(code, ShouldEqual, http.StatusBadRequest)
				So(body.Success, ShouldBeFalse)
			})
		})

		Convey("The scheduler endpoints should drive the controller", func() {
			code, _ := call(ts, http.MethodPost, "/api/scheduler/start")
			So(code, ShouldEqual, http.StatusOK)
			code, body := call(ts, http.MethodPost, "/api/scheduler/start")
			So(code, ShouldEqual, http.StatusConflict)
			So(body.Error, ShouldEqual, domain.ErrSchedulerRunning.Error())

			code, _ = call(ts, http.MethodPost, "/api/scheduler/stop")
			So(code, ShouldEqual, http.StatusOK)
			code, _ = call(ts, http.MethodPost, "/api/scheduler/stop")
			So(code, ShouldEqual, http.StatusConflict)

			code, body = call(ts, http.MethodGet, "/api/scheduler")
			So(code, ShouldEqual, http.StatusOK)
			So(string(body.Data), ShouldContainSubstring, `"running":false`)
		})

		Convey("POST /api/jobs/{name}/run should trigger the job", func() {
			code, body := call(ts, http.MethodPost, "/api/jobs/nightly/run")
			So(code, ShouldEqual, http.StatusOK)
			var run domain.JobRun
			So(json.Unmarshal(body.Data, &run), ShouldBeNil)
			So(run.Job, ShouldEqual, "nightly")
			So(ctl.Triggered(), ShouldResemble, []string{"nightly"})

			Convey("Unknown jobs should be 404", func() {
				code, _ := call(ts, http.MethodPost, "/api/jobs/nope/run")
				So(code, ShouldEqual, http.StatusNotFound)
			})

			Convey("A job in flight should be 409", func() {
				ctl.failTriggers(fmt.Errorf("%w: nightly", domain.ErrJobInFlight))
				code, _ := call(ts, http.MethodPost, "/api/jobs/nightly/run")
				So(code, ShouldEqual, http.StatusConflict)
				code, _ = call(ts, http.MethodPost, "/api/jobs/nightly/run?wait=false")
				So(code, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("POST /api/shutdown should request a shutdown", func() {
			code, _ := call(ts, http.MethodPost, "/api/shutdown")
			So(code, ShouldEqual, http.StatusAccepted)
			deadline := time.Now().Add(time.Second)
			for ctl.Shutdowns() == 0 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			So(ctl.Shutdowns(), ShouldEqual, 1)
		})

		Convey("/metrics should expose Prometheus metrics", func() {
			resp, err := http.Get(ts.URL + "/metrics")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(string(b), ShouldContainSubstring, "go_goroutines")
		})

		Convey("/api/events should stream the replay and new events", func() {
			events.Publish(domain.NewEvent(domain.SeverityInfo, domain.OriginScheduler, "before connect"))

			wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			So(err, ShouldBeNil)
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

			var first domain.Event
			So(conn.ReadJSON(&first), ShouldBeNil)
			So(first.Message, ShouldEqual, "before connect")

			events.Publish(domain.NewEvent(domain.SeverityWarn, domain.JobOrigin("nightly"), "after connect"))
			var second domain.Event
			So(conn.ReadJSON(&second), ShouldBeNil)
			So(second.Message, ShouldEqual, "after connect")
			So(second.Origin, ShouldEqual, "job:nightly")
			So(second.Seq, ShouldBeGreaterThan, first.Seq)
		})
	})

	Convey("Given a dashboard with credentials", t, func() {
		store := status.New(10)
		events := eventbus.New(10, 16)
		defer events.Close()
		srv, err := New(config.WebConfig{Username: "admin", Password: "secret"}, store, events, &fakeController{}, nopLogger{})
		So(err, ShouldBeNil)
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		Convey("Requests without them should be rejected", func() {
			resp, err := http.Get(ts.URL + "/api/status")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Requests with them should pass", func() {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})

	Convey("New should fail on an unreadable OAuth client secret", t, func() {
		_, err := New(config.WebConfig{OAuthClientSecret: "/nonexistent/client_secret.json"},
			status.New(1), eventbus.New(1, 1), &fakeController{}, nopLogger{})
		So(err, ShouldNotBeNil)
	})
}
