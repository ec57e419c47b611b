package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "run-task", "cache"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestBuildRootCmdConfigFlagDefault(t *testing.T) {
	cmd := buildRootCmd()
	flag := cmd.PersistentFlags().Lookup("config")
	if flag == nil {
		t.Fatal("expected a persistent --config flag")
	}
	if flag.DefValue != "nexus.yaml" {
		t.Errorf("default config path = %q, want nexus.yaml", flag.DefValue)
	}
}
