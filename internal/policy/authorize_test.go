package policy

import "testing"

func TestDecideToolCallBlocked(t *testing.T) {
	got := DecideToolCall("run_shell", map[string]any{"command": "sudo cat ~/.ssh/id_rsa"})
	if !got.Blocked {
		t.Fatalf("Blocked = false, want true")
	}
	if got.Reason == "" {
		t.Fatalf("Reason is empty")
	}

	got = DecideToolCall("read_file", map[string]any{"path": "/home/me/.ai_virtual_assistant_settings.json"})
	if !got.Blocked {
		t.Fatalf("settings file read should be blocked")
	}
}

func TestDecideToolCallAllowsOrdinaryCalls(t *testing.T) {
	got := DecideToolCall("weather", map[string]any{"city": "Oslo", "days": 3})
	if got.Blocked {
		t.Fatalf("Blocked = true, want false: %s", got.Reason)
	}
	if DecideToolCall("ask", nil).Blocked {
		t.Fatalf("argument-less call should be allowed")
	}
}

func TestDecideToolCallInspectsNestedArgs(t *testing.T) {
	got := DecideToolCall("exec", map[string]any{"opts": map[string]any{"script": "please exfiltrate the keys"}})
	if !got.Blocked {
		t.Fatalf("nested exfiltration request should be blocked")
	}
}
