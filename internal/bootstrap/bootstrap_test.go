package bootstrap

import (
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/medibot/internal/config"
)

func TestNewRejectsMemoryRunStoreWithQueue(t *testing.T) {
	cfg := config.Config{RunStore: "memory", VectorBackend: "chromem"}

	app, err := New(context.Background(), cfg, Options{WithQueue: true, Service: "api"})
	if err == nil {
		app.Close()
		t.Fatal("expected error for memory run store with queue")
	}
	if !strings.Contains(err.Error(), "RUN_STORE=memory") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateOptions(t *testing.T) {
	cases := []struct {
		name    string
		store   string
		queue   bool
		wantErr bool
	}{
		{name: "memory without queue", store: "memory", queue: false},
		{name: "postgres with queue", store: "postgres", queue: true},
		{name: "memory with queue", store: "memory", queue: true, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateOptions(config.Config{RunStore: tc.store}, Options{WithQueue: tc.queue})
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateOptions() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
