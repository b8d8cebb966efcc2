package kafka

import (
	"reflect"
	"testing"
)

func TestEventTopicConfig(t *testing.T) {
	cfg := EventTopicConfig("geyser.events", 6, 3)

	if cfg.Name != "geyser.events" || cfg.Partitions != 6 || cfg.ReplicationFactor != 3 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.RetentionMs != 7*24*60*60*1000 {
		t.Errorf("retention = %d, want 7 days", cfg.RetentionMs)
	}
	if cfg.CleanupPolicy != "delete" {
		t.Errorf("cleanup policy = %q, want delete", cfg.CleanupPolicy)
	}
}

func TestSplitBrokers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"localhost:9092", []string{"localhost:9092"}},
		{"a:9092, b:9092 ,c:9092", []string{"a:9092", "b:9092", "c:9092"}},
		{"a:9092,,", []string{"a:9092"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		got := SplitBrokers(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitBrokers(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
