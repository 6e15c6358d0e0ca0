package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Allergies []string `json:"allergies"`
	}
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{name: "plain", content: `{"allergies":["penicillin"]}`, want: []string{"penicillin"}},
		{name: "fenced", content: "```json\n{\"allergies\":[\"latex\"]}\n```", want: []string{"latex"}},
		{name: "prose", content: "Here you go: {\"allergies\":[]} hope it helps", want: []string{}},
		{name: "bare fence", content: "```\n{\"allergies\":[\"dust\"]}\n```", want: []string{"dust"}},
		{name: "empty", content: "  ", wantErr: true},
		{name: "garbage", content: "not json at all", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got payload
			err := DecodeJSON(tc.content, &got)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Allergies)
		})
	}
}

func TestSnippetTruncates(t *testing.T) {
	long := strings.Repeat("a ", 200)
	assert.True(t, strings.HasSuffix(snippet(long), "..."))
	assert.Equal(t, "<empty>", snippet("\n\t"))
}
