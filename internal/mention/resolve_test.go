package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teamchat/internal/model"
)

var roster = []model.RosterEntry{
	{UserID: "alice", UserName: "Alice", IsActive: true},
	{UserID: "alice2", UserName: "Alice Cooper", IsActive: true},
	{UserID: "mj", UserName: "Mary Jane Watson", IsActive: true},
	{UserID: "bob", UserName: "Bob", IsActive: true},
	{UserID: "old", UserName: "Oldtimer", IsActive: false},
	{UserID: "dup", UserName: "Bob", IsActive: true},
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		sender string
		want   []string
	}{
		{name: "single", text: "hi @Bob", sender: "alice", want: []string{"bob"}},
		{name: "dedupe", text: "hello @Alice @Alice", sender: "bob", want: []string{"alice"}},
		{name: "case insensitive", text: "@bOB ping", sender: "alice", want: []string{"bob"}},
		{name: "exact beats prefix", text: "@alice look", sender: "bob", want: []string{"alice"}},
		{name: "multi word greedy", text: "@Alice Cooper can you check", sender: "bob", want: []string{"alice2"}},
		{name: "three words", text: "thanks @mary jane watson!", sender: "bob", want: []string{"mj"}},
		{name: "prefix", text: "@Mary please", sender: "bob", want: []string{"mj"}},
		{name: "substring", text: "@watson", sender: "bob", want: []string{"mj"}},
		{name: "punctuation ends name", text: "@Alice, Cooper is here", sender: "bob", want: []string{"alice"}},
		{name: "sender excluded", text: "note to self @Bob", sender: "bob", want: []string{"dup"}},
		{name: "inactive dropped", text: "@Oldtimer you there?", sender: "bob", want: nil},
		{name: "no match dropped", text: "@nobody @Bob", sender: "alice", want: []string{"bob"}},
		{name: "email is not a mention", text: "mail bob@example.com", sender: "alice", want: nil},
		{name: "bare at", text: "meet @ 5pm", sender: "alice", want: nil},
		{name: "roster order tie break", text: "@Bob", sender: "alice", want: []string{"bob"}},
		{name: "adjacent mentions", text: "@Bob@Alice", sender: "mj", want: []string{"bob"}},
		{name: "order of first mention", text: "@Bob then @Alice then @bob", sender: "mj", want: []string{"bob", "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.text, roster, tt.sender))
		})
	}
}

func TestParseGreedyStopsWhenNoNameContinues(t *testing.T) {
	toks := Parse("@Alice Cooper rocks", roster)
	if assert.Len(t, toks, 1) {
		assert.Equal(t, "alice cooper", toks[0].Name)
		assert.Equal(t, "Alice Cooper", toks[0].Raw)
	}
}

func TestMatchPasses(t *testing.T) {
	e, ok := Match("ali", roster)
	assert.True(t, ok)
	assert.Equal(t, "alice", e.UserID, "first prefix match in roster order")

	_, ok = Match("zzz", roster)
	assert.False(t, ok)
	_, ok = Match("", roster)
	assert.False(t, ok)
}
