package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWorkerSubmitResolvesFuture(t *testing.T) {
	store := newTestStore(t, 10)
	remote := newIdempotentRemote()
	engine := NewEngine(store, remote, Options{Timeout: time.Second}, zerolog.Nop())
	w := NewWorker(engine, WorkerOptions{Workers: 2, QueueSize: 4, Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(stopped)
	}()

	tx := record(t, store, "INV-1")
	fut, err := w.Submit(tx.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	// The startup sweep may win the claim; either way the transaction ends synced.
	if err := fut.Wait(waitCtx); err != nil && !errors.Is(err, ErrSkipped) {
		t.Fatalf("future: %v", err)
	}
	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), tx.ID)
		return got.Synced
	})

	cancel()
	<-stopped
	if _, err := w.Submit(tx.ID); !errors.Is(err, ErrWorkerStopped) {
		t.Fatalf("expected ErrWorkerStopped after shutdown, got %v", err)
	}
}

func TestWorkerBackpressure(t *testing.T) {
	store := newTestStore(t, 10)
	engine := NewEngine(store, newIdempotentRemote(), Options{}, zerolog.Nop())
	w := NewWorker(engine, WorkerOptions{QueueSize: 1}, zerolog.Nop())

	if _, err := w.Submit("a"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := w.Submit("b"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWorkerNudgeTriggersSweep(t *testing.T) {
	store := newTestStore(t, 10)
	engine := NewEngine(store, newIdempotentRemote(), Options{Timeout: time.Second}, zerolog.Nop())
	w := NewWorker(engine, WorkerOptions{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the startup sweep time to run against an empty store.
	time.Sleep(20 * time.Millisecond)
	tx := record(t, store, "INV-9")
	w.Nudge()
	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), tx.ID)
		return got.Synced
	})
}

func TestHTTPRemote(t *testing.T) {
	var (
		gotKey  string
		gotAuth string
		seen    = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case p.InvoiceNumber == "INV-BAD":
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		case seen[p.InvoiceNumber]:
			w.WriteHeader(http.StatusConflict)
		default:
			seen[p.InvoiceNumber] = true
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "secret", srv.Client())
	ctx := context.Background()

	if err := remote.Push(ctx, Payload{InvoiceNumber: "INV-1"}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if gotKey != "INV-1" || gotAuth != "Bearer secret" {
		t.Fatalf("unexpected headers: key=%q auth=%q", gotKey, gotAuth)
	}
	if err := remote.Push(ctx, Payload{InvoiceNumber: "INV-1"}); err != nil {
		t.Fatalf("duplicate push should count as delivered: %v", err)
	}
	if err := remote.Push(ctx, Payload{InvoiceNumber: "INV-BAD"}); err == nil {
		t.Fatalf("expected error on 503")
	}
}
