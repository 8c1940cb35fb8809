package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/vigil/internal/domain"
)

func event(origin string, i int) domain.Event {
	return domain.NewEvent(domain.SeverityInfo, origin, "message %d", i)
}

func next(sub *Subscription) domain.Event {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := sub.Next(ctx)
	So(err, ShouldBeNil)
	return e
}

func TestBroadcaster(t *testing.T) {
	Convey("Given a Broadcaster", t, func() {
		b := New(3, 4)
		defer b.Close()

		Convey("Publish should stamp sequence numbers and times", func() {
			sub := b.Subscribe()
			defer sub.Close()

			b.Publish(domain.Event{Origin: domain.OriginScheduler, Message: "hello"})
			e := next(sub)

			So(e.Seq, ShouldEqual, 1)
			So(e.Time.IsZero(), ShouldBeFalse)
			So(e.Message, ShouldEqual, "hello")
		})

		Convey("Subscribers should receive events in publish order", func() {
			sub := b.Subscribe()
			defer sub.Close()

			for i := 0; i < 4; i++ {
				b.Publish(event("job:a", i))
			}
			for i := 0; i < 4; i++ {
				So(next(sub).Message, ShouldEqual, fmt.Sprintf("message %d", i))
			}
		})

		Convey("Late subscribers should get the replay buffer only", func() {
			for i := 0; i < 5; i++ {
				b.Publish(event(domain.OriginScheduler, i))
			}

			sub := b.Subscribe()
			defer sub.Close()

			So(sub.Pending(), ShouldEqual, 3)
			So(next(sub).Message, ShouldEqual, "message 2")
			So(next(sub).Message, ShouldEqual, "message 3")
			So(next(sub).Message, ShouldEqual, "message 4")

			recent := b.Recent(2)
			So(len(recent), ShouldEqual, 2)
			So(recent[1].Message, ShouldEqual, "message 4")
		})

		Convey("A subscriber that never reads", func() {
			slow := b.Subscribe()
			defer slow.Close()
			fast := b.Subscribe()
			defer fast.Close()

			Convey("It should block neither the publisher nor other subscribers", func() {
				for i := 0; i < 10; i++ {
					published := make(chan struct{})
					go func(i int) {
						b.Publish(event(domain.OriginScheduler, i))
						close(published)
					}(i)

					select {
					case <-published:
					case <-time.After(time.Second):
						t.Fatal("publish blocked on a slow subscriber")
					}
					So(next(fast).Message, ShouldEqual, fmt.Sprintf("message %d", i))
				}

				Convey("And it should get a gap marker before its newest events", func() {
					gap := next(slow)
					So(gap.IsGap(), ShouldBeTrue)
					So(gap.Dropped, ShouldEqual, 6)
					So(next(slow).Message, ShouldEqual, "message 6")
					So(slow.Pending(), ShouldEqual, 3)
				})
			})
		})

		Convey("Next should honour context cancellation", func() {
			sub := b.Subscribe()
			defer sub.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := sub.Next(ctx)
			So(err, ShouldEqual, context.DeadlineExceeded)
		})

		Convey("Close on a subscription", func() {
			sub := b.Subscribe()
			b.Publish(event(domain.OriginScheduler, 1))
			sub.Close()

			Convey("It should unsubscribe and drain then report closed", func() {
				So(b.SubscriberCount(), ShouldEqual, 0)
				So(next(sub).Message, ShouldEqual, "message 1")

				_, err := sub.Next(context.Background())
				So(err, ShouldEqual, ErrClosed)
			})
		})

		Convey("Close on the broadcaster should end blocked readers", func() {
			sub := b.Subscribe()
			errs := make(chan error, 1)
			go func() {
				_, err := sub.Next(context.Background())
				errs <- err
			}()

			b.Close()

			select {
			case err := <-errs:
				So(err, ShouldEqual, ErrClosed)
			case <-time.After(time.Second):
				t.Fatal("reader not released on close")
			}
		})
	})
}

func TestReplayLargerThanBuffer(t *testing.T) {
	Convey("Given a replay larger than the subscriber buffer", t, func() {
		b := New(10, 4)
		defer b.Close()
		for i := 1; i <= 10; i++ {
			b.Publish(event("scheduler", i))
		}

		Convey("A new subscriber should get the newest events without a gap marker", func() {
			sub := b.Subscribe()
			So(sub.Pending(), ShouldEqual, 4)

			first := next(sub)
			So(first.IsGap(), ShouldBeFalse)
			So(first.Message, ShouldEqual, "message 7")
			So(first.Seq, ShouldEqual, 7)
		})
	})
}
