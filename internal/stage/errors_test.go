package stage_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"paperpipe/internal/stage"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := stage.Wrap(stage.ErrConversion, "extract", "pdf", "unreadable", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, stage.ErrConversion) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"extract", "pdf", "unreadable"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutDetail(t *testing.T) {
	err := stage.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, stage.ErrPersistence) {
		t.Fatalf("expected persistence marker by default, got %v", err)
	}
	if !strings.Contains(err.Error(), "pipeline failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want stage.Kind
	}{
		{nil, stage.KindNone},
		{stage.Wrap(stage.ErrTransientNetwork, "fetch", "get", "", nil), stage.KindTransientNetwork},
		{stage.Wrap(stage.ErrPermanentFetch, "fetch", "get", "404", nil), stage.KindPermanentFetch},
		{stage.Wrap(stage.ErrParse, "source", "entry", "", nil), stage.KindParse},
		{stage.Wrap(stage.ErrConversion, "extract", "", "", nil), stage.KindConversion},
		{stage.Wrap(stage.ErrPersistence, "merge", "", "", nil), stage.KindPersistence},
		{stage.Wrap(stage.ErrEnvironment, "pipeline", "", "", nil), stage.KindEnvironment},
		{fmt.Errorf("wrapped: %w", context.Canceled), stage.KindCanceled},
		{errors.New("mystery"), stage.KindUnknown},
	}
	for _, tc := range cases {
		if got := stage.KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestReportCounts(t *testing.T) {
	var report stage.Report
	report.Add(stage.Result{IdentityKey: "a", Outcome: stage.OutcomeSucceeded})
	report.Add(stage.Result{IdentityKey: "b", Outcome: stage.OutcomeSkipped})
	report.Add(stage.Result{IdentityKey: "c", Outcome: stage.OutcomeFailed, Err: stage.Wrap(stage.ErrPermanentFetch, "fetch", "", "", nil)})
	report.Add(stage.Result{IdentityKey: "d", Outcome: stage.OutcomeFailed, Err: stage.Wrap(stage.ErrTransientNetwork, "fetch", "", "", nil)})
	report.Add(stage.Result{IdentityKey: "e", Outcome: stage.OutcomeFailed, Err: stage.Wrap(stage.ErrPermanentFetch, "fetch", "", "", nil)})

	if got := report.Count(stage.OutcomeSucceeded); got != 1 {
		t.Fatalf("succeeded = %d", got)
	}
	if got := len(report.Failed()); got != 3 {
		t.Fatalf("failed = %d", got)
	}
	if report.Failed()[0].IdentityKey != "c" {
		t.Fatalf("expected failures in report order, got %+v", report.Failed())
	}
	byKind := report.FailuresByKind()
	if byKind[stage.KindPermanentFetch] != 2 || byKind[stage.KindTransientNetwork] != 1 {
		t.Fatalf("unexpected kind tally: %v", byKind)
	}
}
