package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelKey(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		want    string
	}{
		{"numeric id first", Channel{ID: -1001, Handle: "@news", Alias: "News"}, "-1001"},
		{"handle next, trimmed", Channel{Handle: "@news", Alias: "News"}, "news"},
		{"handle without at", Channel{Handle: "news"}, "news"},
		{"alias last", Channel{Alias: "News"}, "News"},
		{"nothing known", Channel{}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.channel.Key())
		})
	}
}

func TestChannelLabel(t *testing.T) {
	assert.Equal(t, "Breaking", Channel{ID: -1, Alias: "Breaking"}.Label())
	assert.Equal(t, "-1", Channel{ID: -1}.Label())
}

func TestTargetValid(t *testing.T) {
	assert.True(t, Target{UserID: 1}.Valid())
	assert.True(t, Target{GroupID: -2}.Valid())
	assert.False(t, Target{}.Valid())
	assert.False(t, Target{UserID: 1, GroupID: -2}.Valid())
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "user:7", Target{UserID: 7}.String())
	assert.Equal(t, "group:-5", Target{GroupID: -5}.String())
}

func TestLargestAttachment(t *testing.T) {
	m := &Inbound{Attachments: []Attachment{
		{Kind: KindImage, Size: 100},
		{Kind: KindVideo, Size: 9000},
		{Kind: KindDocument, Size: 500},
	}}
	assert.Equal(t, int64(9000), m.LargestAttachment())
	assert.Equal(t, int64(0), (&Inbound{}).LargestAttachment())
}
