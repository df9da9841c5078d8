package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationID(t *testing.T) {
	assert.Equal(t, ConversationID("ana", "beto"), ConversationID("beto", "ana"))
	assert.Equal(t, "ana_beto", ConversationID("beto", "ana"))
	assert.Equal(t, "ana_ana", ConversationID("ana", "ana"))
	assert.Equal(t, []string{"ana", "beto"}, SortedPair("beto", "ana"))
}

func TestConversation_Partner(t *testing.T) {
	c := Conversation{Participants: []string{"ana", "beto"}}
	assert.Equal(t, "beto", c.Partner("ana"))
	assert.True(t, c.Has("ana"))
	assert.False(t, c.Has("carla"))

	self := Conversation{Participants: []string{"ana", "ana"}}
	assert.Equal(t, "ana", self.Partner("ana"))
}

func TestDecodeMessage(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    Kind
		wantErr bool
	}{
		{"text", `{"sender_id":"a","kind":"text","text":"x","created_at":1}`, KindText, false},
		{"legacy type field", `{"sender_id":"a","type":"audio","media":"m","created_at":1}`, KindVoice, false},
		{"kind missing on text", `{"sender_id":"a","text":"x","created_at":1}`, KindText, false},
		{"kind missing on media", `{"sender_id":"a","media":"m","created_at":1}`, "", true},
		{"unknown kind", `{"sender_id":"a","kind":"gif","media":"m","created_at":1}`, "", true},
		{"image without media", `{"sender_id":"a","kind":"image","text":"x","created_at":1}`, "", true},
		{"no sender", `{"kind":"text","text":"x","created_at":1}`, "", true},
		{"no timestamp", `{"sender_id":"a","text":"x"}`, "", true},
		{"empty", `{"sender_id":"a","kind":"text","text":"","created_at":1}`, "", true},
		{"not an object", `"hello"`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := DecodeMessage("k1", json.RawMessage(tc.raw))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRecord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.Kind)
			assert.Equal(t, "k1", m.ID)
		})
	}
}

func TestDecodeConversation(t *testing.T) {
	c, err := DecodeConversation("a_b", json.RawMessage(`{"participants":["a","b"],"created_at":10}`))
	require.NoError(t, err)
	assert.EqualValues(t, 10, c.LastActivity)

	_, err = DecodeConversation("a", json.RawMessage(`{"participants":["a"]}`))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestSortByActivity(t *testing.T) {
	cs := []Conversation{{ID: "b", LastActivity: 1}, {ID: "c", LastActivity: 2}, {ID: "a", LastActivity: 1}}
	SortByActivity(cs)
	assert.Equal(t, "c", cs[0].ID)
	assert.Equal(t, "a", cs[1].ID)
	assert.Equal(t, "b", cs[2].ID)
}

func TestLabelsAndTruncate(t *testing.T) {
	assert.Equal(t, "[photo]", KindImage.Label())
	assert.Equal(t, "[video]", KindVideo.Label())
	assert.Equal(t, "[voice note]", KindVoice.Label())
	assert.Equal(t, "[voice note]", MessageView{Kind: KindVoice}.DisplayText())
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab…", Truncate("abc", 2))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(Invalid("video", "too long")))
	assert.True(t, IsValidation(ErrEmptyMessage))
	assert.False(t, IsValidation(ErrNotFound))
}
