package transport

import "testing"

func TestValidServerID(t *testing.T) {
	valid := []string{"a", "everything", "my-server_1", "A0-_"}
	for _, id := range valid {
		if !ValidServerID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{"", "has space", "slash/es", "emoji🎉", string(make([]byte, 129))}
	for _, id := range invalid {
		if ValidServerID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestEndpointCloneIsDeep(t *testing.T) {
	orig := Endpoint{
		ID:      "a",
		Command: &CommandEndpoint{Command: "npx", Args: []string{"-y"}, Env: map[string]string{"K": "v"}},
	}
	clone := orig.Clone()
	clone.Command.Args[0] = "changed"
	clone.Command.Env["K"] = "changed"

	if orig.Command.Args[0] != "-y" || orig.Command.Env["K"] != "v" {
		t.Error("mutating the clone must not affect the original")
	}

	remote := Endpoint{ID: "b", Remote: &RemoteEndpoint{URL: "https://x", Headers: map[string]string{"H": "1"}}}
	rc := remote.Clone()
	rc.Remote.Headers["H"] = "2"
	if remote.Remote.Headers["H"] != "1" {
		t.Error("mutating the clone's headers must not affect the original")
	}
}

func TestEndpointIsRemote(t *testing.T) {
	cmd := Endpoint{ID: "a", Command: &CommandEndpoint{Command: "echo"}}
	if cmd.IsRemote() {
		t.Error("command endpoint should not be remote")
	}

	remote := Endpoint{ID: "b", Remote: &RemoteEndpoint{URL: "https://example.com"}}
	if !remote.IsRemote() {
		t.Error("remote endpoint should be remote")
	}
}
