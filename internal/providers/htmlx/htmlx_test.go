package htmlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPlainTextStripsTags(t *testing.T) {
	got := ToPlainText(`<html><body><p>Hello <b>world</b></p><div>second line</div></body></html>`)
	assert.Contains(t, got, "Hello world")
	assert.Contains(t, got, "second line")
	assert.NotContains(t, got, "<")
}

func TestToPlainTextPassesPlainBodiesThrough(t *testing.T) {
	assert.Equal(t, "just text", ToPlainText("just   text"))
}

func TestToPlainTextUnescapesEntities(t *testing.T) {
	assert.Equal(t, "a & b", ToPlainText("a &amp; b"))
}

func TestCollapseQuotedHistory(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "gmail style quote",
			in:   "Sounds good!\n\nOn Mon, Jan 5, 2026 at 9:00 AM Alice <a@x.test> wrote:\n> old content",
			want: "Sounds good!",
		},
		{
			name: "outlook original message marker",
			in:   "See attached.\n-----Original Message-----\nFrom: Bob",
			want: "See attached.",
		},
		{
			name: "no quote marker keeps everything",
			in:   "Full body with no history.",
			want: "Full body with no history.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CollapseQuotedHistory(tt.in))
		})
	}
}

func TestIsReplySubject(t *testing.T) {
	assert.True(t, IsReplySubject("Re: hello"))
	assert.True(t, IsReplySubject("RE: hello"))
	assert.True(t, IsReplySubject("  re : hello"))
	assert.True(t, IsReplySubject("Aw: hallo"))
	assert.False(t, IsReplySubject("hello"))
	assert.False(t, IsReplySubject("regarding the report"))
}
