package console

import (
	"bytes"
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/eventbus"
	"github.com/semmidev/vigil/internal/status"
)

func TestFormatSize(t *testing.T) {
	Convey("FormatSize should use binary units", t, func() {
		So(FormatSize(512), ShouldEqual, "512 B")
		So(FormatSize(1536), ShouldEqual, "1.50 KiB")
		So(FormatSize(3*1024*1024), ShouldEqual, "3.00 MiB")
	})
}

func TestRender(t *testing.T) {
	Convey("Given a store with runs", t, func() {
		store := status.New(10)
		store.RegisterJobs([]domain.JobSpec{{
			Name:      "nightly",
			Target:    domain.DatabaseTarget{Name: "primary"},
			Databases: []string{"app", "audit"},
			Schedule:  domain.Every(1, domain.UnitDays),
		}})
		start := time.Date(2026, 10, 16, 1, 0, 0, 0, time.UTC)
		store.Record(domain.JobRun{
			Job: "nightly", Trigger: domain.TriggerSchedule, Started: start, Finished: start.Add(90 * time.Second),
			Outcome: domain.OutcomeFailure, Kind: domain.KindPartial, Error: "1 of 2 database(s) failed: audit", Bytes: 2048,
		})

		Convey("RenderSnapshot should show the counters and the job", func() {
			out := RenderSnapshot(store.Snapshot())
			So(out, ShouldContainSubstring, "Runs: 1 (0 ok, 1 failed, 0.0% success)")
			So(out, ShouldContainSubstring, "LAST RUN")
			So(out, ShouldContainSubstring, "nightly")
			So(out, ShouldContainSubstring, "app, audit")
		})

		Convey("RenderRuns should show the failure kind and size", func() {
			out := RenderRuns(store.Recent(0))
			So(out, ShouldContainSubstring, "[partial] 1 of 2 database(s) failed: audit")
			So(out, ShouldContainSubstring, "2.00 KiB")
			So(out, ShouldContainSubstring, "1m30s")
		})
	})
}

func TestFollow(t *testing.T) {
	Convey("Given a subscription", t, func() {
		b := eventbus.New(10, 16)
		sub := b.Subscribe()
		b.Publish(domain.NewEvent(domain.SeverityWarn, domain.JobOrigin("nightly"), "slot skipped"))
		b.Publish(domain.NewEvent(domain.SeverityInfo, domain.OriginUpload, "uploaded"))

		Convey("Follow should print every event until the broadcaster closes", func() {
			var out bytes.Buffer
			b.Close()
			So(Follow(context.Background(), sub, &out, false), ShouldBeNil)

			So(out.String(), ShouldContainSubstring, "WARN  [job:nightly] slot skipped")
			So(out.String(), ShouldContainSubstring, "INFO  [upload] uploaded")
		})

		Convey("Follow should stop when its context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			So(Follow(ctx, sub, &bytes.Buffer{}, true), ShouldBeNil)
			b.Close()
		})
	})

	Convey("Gap markers should report the dropped count", t, func() {
		So(FormatEvent(domain.Event{Dropped: 3}, false), ShouldEqual, "... 3 event(s) dropped")
	})
}
