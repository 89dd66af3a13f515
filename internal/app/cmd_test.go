package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{[]string{}, CommandServe},
		{nil, CommandServe},
		{[]string{"serve"}, CommandServe},
		{[]string{"tui"}, CommandTUI},
		{[]string{"migrate"}, CommandMigrate},
		{[]string{"healthcheck"}, CommandHealthcheck},
		{[]string{"unknown"}, CommandServe},
		{[]string{"tui", "--flag", "value"}, CommandTUI},
	}

	for _, tt := range tests {
		if got := ParseCommand(tt.args); got != tt.want {
			t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandTUI, "tui"},
		{CommandMigrate, "migrate"},
		{CommandHealthcheck, "healthcheck"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}
