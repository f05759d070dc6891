package mqttsub

import "testing"

func TestParseSubscription(t *testing.T) {
	deviceID := "dvc_1"

	cases := []struct {
		name  string
		topic string
		want  Topic
	}{
		{"sync", "cmd/devices/dvc_1/sync", TopicSync},
		{"ping", "v1/cmd/devices/dvc_1/ping", TopicPing},
		{"other device's sync", "cmd/devices/dvc_2/sync", TopicUnknown},
		{"garbage", "not/a/real/topic", TopicUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseSubscription(deviceID, tc.topic); got != tc.want {
				t.Errorf("ParseSubscription(%q) = %v, want %v", tc.topic, got, tc.want)
			}
		})
	}
}

func TestTopicBuilders(t *testing.T) {
	if got, want := SyncTopic("dvc_1"), "cmd/devices/dvc_1/sync"; got != want {
		t.Errorf("SyncTopic = %q, want %q", got, want)
	}
	if got, want := PingTopic("dvc_1"), "v1/cmd/devices/dvc_1/ping"; got != want {
		t.Errorf("PingTopic = %q, want %q", got, want)
	}
	if got, want := PongTopic("dvc_1"), "v1/resp/devices/dvc_1/pong"; got != want {
		t.Errorf("PongTopic = %q, want %q", got, want)
	}
}
