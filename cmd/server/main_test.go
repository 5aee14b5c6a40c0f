package main

import (
	"context"
	"testing"
	"time"

	"retailpos/backend/internal/config"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", AccessTokenTTL: time.Hour})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestLoyaltySweeperStopsWithContext(t *testing.T) {
	svc := service.New(memory.NewSeeded(), service.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runLoyaltySweeper(ctx, svc, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after cancel")
	}
}
