package sweeper

import (
	"context"
	"testing"

	"github.com/dgnsrekt/iso_agent/internal/exceptions"
	"github.com/dgnsrekt/iso_agent/internal/host"
	"github.com/dgnsrekt/iso_agent/internal/host/hosttest"
)

const isolated = host.ContainerID("container-tiktok")

type fakeOracle struct {
	active      bool
	assignments map[string]bool
}

func (f *fakeOracle) Active() bool { return f.active }

func (f *fakeOracle) Assignment(_ context.Context, url string) bool {
	return f.active && f.assignments[url]
}

func newTestSweeper(t *testing.T, oracle *fakeOracle) (*Sweeper, *hosttest.Cookies, *exceptions.Store) {
	t.Helper()
	cookies := hosttest.NewCookies()
	containers := hosttest.NewContainers(
		host.Container{ID: isolated, Name: "TikTok"},
		host.Container{ID: "container-work", Name: "Work"},
	)
	exc := exceptions.NewStore(hosttest.NewStorage())
	s := New(Config{
		Domains:    []string{"tiktok.com", "musical.ly"},
		Containers: containers,
		Cookies:    cookies,
		Exceptions: exc,
		Oracle:     oracle,
		IsolatedID: isolated,
	})
	return s, cookies, exc
}

func seedCookies(cookies *hosttest.Cookies) {
	cookies.Add(host.Cookie{Name: "tracking", Domain: "tiktok.com", Store: host.DefaultContainer})
	cookies.Add(host.Cookie{Name: "tracking", Domain: "tiktok.com", Store: "container-work"})
	cookies.Add(host.Cookie{Name: "contained-tracking", Domain: "tiktok.com", Store: isolated})
}

func TestSweepRemovesLeakedCookiesOnly(t *testing.T) {
	s, cookies, _ := newTestSweeper(t, &fakeOracle{})
	seedCookies(cookies)

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if got := cookies.Remaining(host.DefaultContainer); len(got) != 0 {
		t.Fatalf("default container cookies = %v, want none", got)
	}
	if got := cookies.Remaining("container-work"); len(got) != 0 {
		t.Fatalf("work container cookies = %v, want none", got)
	}
	kept := cookies.Remaining(isolated)
	if len(kept) != 1 || kept[0].Name != "contained-tracking" {
		t.Fatalf("isolated container cookies = %v, want contained-tracking untouched", kept)
	}
}

func TestSweepClearsWorkerState(t *testing.T) {
	s, cookies, _ := newTestSweeper(t, &fakeOracle{})
	seedCookies(cookies)

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	for _, cleared := range cookies.ClearedWorkers {
		if cleared == string(isolated)+"/tiktok.com" {
			t.Fatal("worker state cleared inside the isolated container")
		}
	}
	if len(cookies.ClearedWorkers) == 0 {
		t.Fatal("no worker state cleared")
	}
}

func TestSweepSkipsOracleDelegatedDomains(t *testing.T) {
	oracle := &fakeOracle{active: true, assignments: map[string]bool{
		"https://tiktok.com/": true,
	}}
	s, cookies, _ := newTestSweeper(t, oracle)
	seedCookies(cookies)

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if got := cookies.Remaining(host.DefaultContainer); len(got) != 1 {
		t.Fatalf("delegated domain cookies = %v, want left alone", got)
	}
}

func TestSweepSkipsExceptionListedDomains(t *testing.T) {
	s, cookies, exc := newTestSweeper(t, &fakeOracle{})
	seedCookies(cookies)
	if err := exc.Add(context.Background(), "tiktok.com"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if got := cookies.Remaining(host.DefaultContainer); len(got) != 1 {
		t.Fatalf("exception-listed domain cookies = %v, want left alone", got)
	}
}

func TestSweepContinuesPastCookieFailures(t *testing.T) {
	s, cookies, _ := newTestSweeper(t, &fakeOracle{})
	cookies.Add(host.Cookie{Name: "stubborn", Domain: "tiktok.com", Store: host.DefaultContainer})
	cookies.Add(host.Cookie{Name: "tracking", Domain: "musical.ly", Store: host.DefaultContainer})
	cookies.FailRemoveName = "stubborn"

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v, want best-effort success", err)
	}

	// The failing cookie stays; the rest of the sweep still ran.
	remaining := cookies.Remaining(host.DefaultContainer)
	if len(remaining) != 1 || remaining[0].Name != "stubborn" {
		t.Fatalf("remaining = %v, want only the stubborn cookie", remaining)
	}
}

func TestSweepReturnsRunID(t *testing.T) {
	s, _, _ := newTestSweeper(t, &fakeOracle{})
	id, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if id == "" {
		t.Fatal("Sweep() returned empty run id")
	}
}
