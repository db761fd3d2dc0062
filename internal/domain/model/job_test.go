//go:build !integration

package model

import (
	"errors"
	"testing"

	"annotation-ml-controller/internal/domain"
)

func TestNewJob(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		job, err := NewJob("proj-a", JobKindTrain, JobOriginUser, WorkersAll)
		if err != nil {
			t.Fatalf("NewJob failed: %v", err)
		}
		if job.Status != JobStatusQueued {
			t.Fatalf("new job status = %s, want queued", job.Status)
		}
		if job.ID == "" {
			t.Fatal("empty job id")
		}
	})

	t.Run("ids order by creation time", func(t *testing.T) {
		a, _ := NewJob("proj-a", JobKindTrain, JobOriginUser, 1)
		b, _ := NewJob("proj-a", JobKindTrain, JobOriginUser, 1)
		if !(a.ID < b.ID) {
			t.Fatalf("ids not monotonic: %s then %s", a.ID, b.ID)
		}
	})

	t.Run("rejects bad parameters", func(t *testing.T) {
		cases := []struct {
			name    string
			project string
			kind    JobKind
			origin  JobOrigin
			workers int
		}{
			{"empty project", "", JobKindTrain, JobOriginUser, 1},
			{"bad kind", "proj-a", "evaluate", JobOriginUser, 1},
			{"bad origin", "proj-a", JobKindTrain, "cron", 1},
			{"zero workers", "proj-a", JobKindTrain, JobOriginUser, 0},
			{"negative workers", "proj-a", JobKindTrain, JobOriginUser, -2},
		}
		for _, tc := range cases {
			if _, err := NewJob(tc.project, tc.kind, tc.origin, tc.workers); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("%s: expected ErrInvalidArgument, got %v", tc.name, err)
			}
		}
	})
}

func TestJob_Transition(t *testing.T) {
	t.Run("forward only", func(t *testing.T) {
		job, _ := NewJob("proj-a", JobKindTrain, JobOriginUser, 1)
		for _, s := range []JobStatus{JobStatusDispatched, JobStatusPartiallyComplete, JobStatusAggregating, JobStatusComplete} {
			if err := job.Transition(s); err != nil {
				t.Fatalf("transition to %s: %v", s, err)
			}
		}
	})

	t.Run("skipping intermediate statuses is allowed", func(t *testing.T) {
		job, _ := NewJob("proj-a", JobKindInference, JobOriginUser, 1)
		if err := job.Transition(JobStatusDispatched); err != nil {
			t.Fatal(err)
		}
		// Inference never aggregates.
		if err := job.Transition(JobStatusComplete); err != nil {
			t.Fatalf("dispatched -> complete: %v", err)
		}
	})

	t.Run("no going back", func(t *testing.T) {
		job, _ := NewJob("proj-a", JobKindTrain, JobOriginUser, 1)
		_ = job.Transition(JobStatusAggregating)
		if err := job.Transition(JobStatusDispatched); !errors.Is(err, domain.ErrBadTransition) {
			t.Fatalf("expected ErrBadTransition, got %v", err)
		}
	})

	t.Run("terminal statuses are frozen", func(t *testing.T) {
		job, _ := NewJob("proj-a", JobKindTrain, JobOriginUser, 1)
		_ = job.Transition(JobStatusCancelled)
		if err := job.Transition(JobStatusDispatched); !errors.Is(err, domain.ErrJobTerminal) {
			t.Fatalf("expected ErrJobTerminal, got %v", err)
		}
		if err := job.Transition(JobStatusFailed); !errors.Is(err, domain.ErrJobTerminal) {
			t.Fatalf("cancelled -> failed: expected ErrJobTerminal, got %v", err)
		}
	})

	t.Run("cancel and fail reachable from any active status", func(t *testing.T) {
		job, _ := NewJob("proj-a", JobKindTrain, JobOriginUser, 1)
		_ = job.Transition(JobStatusDispatched)
		_ = job.Transition(JobStatusAggregating)
		if err := job.Fail("aggregation_failed"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if job.FailReason != "aggregation_failed" {
			t.Fatalf("fail reason = %q", job.FailReason)
		}
	})
}

func TestEffectiveCeiling(t *testing.T) {
	cases := []struct {
		global, override, want int
	}{
		{8, 0, 8},  // no override
		{8, 3, 3},  // override tightens
		{2, 5, 2},  // global already tighter
		{0, 5, 5},  // unlimited global, bounded project
		{0, 0, 0},  // fully unlimited
		{8, -1, 8}, // negative override ignored
	}
	for _, tc := range cases {
		if got := EffectiveCeiling(tc.global, tc.override); got != tc.want {
			t.Errorf("EffectiveCeiling(%d, %d) = %d, want %d", tc.global, tc.override, got, tc.want)
		}
	}
}

func TestShardSeed(t *testing.T) {
	// Every (shard, attempt) pair of one job must get its own seed, or a
	// retried shard would train with another live shard's randomness.
	seen := map[int64]bool{}
	for shard := 0; shard < 16; shard++ {
		for attempt := 1; attempt <= 4; attempt++ {
			s := ShardSeed("01J5XQZC9GV2N8R4T6W8YB0DEF", shard, attempt)
			if seen[s] {
				t.Fatalf("duplicate seed for shard %d attempt %d", shard, attempt)
			}
			seen[s] = true
		}
	}
	if ShardSeed("job-a", 0, 1) == ShardSeed("job-b", 0, 1) {
		t.Fatal("different jobs produced the same seed")
	}
	if ShardSeed("job-a", 0, 1) != ShardSeed("job-a", 0, 1) {
		t.Fatal("seed not deterministic")
	}
}
