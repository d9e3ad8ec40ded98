package dockerx

import (
	"context"
	"errors"
	"testing"
)

var _ Adapter = (*Fake)(nil)

func TestFakeEnsureNetworkIdempotent(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	id1, err := f.EnsureNetwork(ctx, "arena-iso")
	if err != nil {
		t.Fatalf("ensure network: %v", err)
	}
	id2, err := f.EnsureNetwork(ctx, "arena-iso")
	if err != nil {
		t.Fatalf("ensure network: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent network id, got %q and %q", id1, id2)
	}
}

func TestFakeRemoveNetworkDeletesByID(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	id, err := f.EnsureNetwork(ctx, "arena-iso")
	if err != nil {
		t.Fatalf("ensure network: %v", err)
	}
	if err := f.RemoveNetwork(ctx, id); err != nil {
		t.Fatalf("remove network: %v", err)
	}

	f.mu.Lock()
	_, stillTracked := f.networks["arena-iso"]
	f.mu.Unlock()
	if stillTracked {
		t.Fatal("expected network to no longer be tracked after removal")
	}
}

func TestFakeRemoveNetworkUnknownIDIsNoop(t *testing.T) {
	f := NewFake()
	if err := f.RemoveNetwork(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("expected removing an unknown network id to be a no-op, got %v", err)
	}
}

func TestFakeRunExecAssignsDistinctPorts(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	h1, err := f.RunExec(ctx, "run-1", RunSpec{})
	if err != nil {
		t.Fatalf("run exec: %v", err)
	}
	h2, err := f.RunExec(ctx, "run-2", RunSpec{})
	if err != nil {
		t.Fatalf("run exec: %v", err)
	}
	if h1.HostPort == h2.HostPort {
		t.Fatalf("expected distinct ports, got %d for both", h1.HostPort)
	}

	running, err := f.Inspect(ctx, h1)
	if err != nil || !running {
		t.Fatalf("expected run-1 container running, got running=%v err=%v", running, err)
	}
}

func TestFakeStopIsIdempotent(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	h, err := f.RunExec(ctx, "run-3", RunSpec{})
	if err != nil {
		t.Fatalf("run exec: %v", err)
	}

	if err := f.Stop(ctx, h, 0); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := f.Stop(ctx, h, 0); err != nil {
		t.Fatalf("second stop should be idempotent: %v", err)
	}

	running, _ := f.Inspect(ctx, h)
	if running {
		t.Fatal("expected container to be stopped")
	}
}

func TestFakeBuildExecConfiguredFailure(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	wantErr := errors.New("boom")
	f.BuildResult["run-4"] = FakeBuildResult{ExitCode: 1, Err: wantErr}

	_, exitCode, err := f.BuildExec(ctx, "run-4", BuildSpec{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected configured error, got %v", err)
	}
	if exitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", exitCode)
	}
}

func TestFakeBuildExecDefaultsToSuccess(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	logs, exitCode, err := f.BuildExec(ctx, "run-5", BuildSpec{})
	if err != nil {
		t.Fatalf("expected default success, got %v", err)
	}
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	if len(logs) == 0 {
		t.Fatal("expected non-empty default build logs")
	}
}
