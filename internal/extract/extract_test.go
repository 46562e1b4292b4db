package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portal-resolver/pkg/anthropic"
	"github.com/sells-group/portal-resolver/pkg/anthropic/mocks"
)

const reply = "```json\n" + `{
  "permit_types": [{"name": "Residential Building", "description": "New homes"}],
  "forms": [{"name": "Permit Application", "url": "https://a.gov/app.pdf", "format": "pdf"}],
  "fees": [],
  "contacts": null,
  "notes": ["Submit in person at City Hall"],
  "extra": [1, 2]
}` + "\n```"

func TestParse(t *testing.T) {
	t.Parallel()

	res, err := Parse(reply)
	require.NoError(t, err)

	assert.Len(t, res, len(CollectionNames))
	assert.Len(t, res[PermitTypes], 1)
	assert.Len(t, res[Forms], 1)
	assert.Empty(t, res[Fees])
	assert.Empty(t, res[Contacts])
	assert.Empty(t, res[Inspections])
	assert.Len(t, res[Notes], 1)
	assert.NotContains(t, res, "extra")
	assert.Equal(t, 3, res.Count())
	assert.JSONEq(t, `"Submit in person at City Hall"`, string(res[Notes][0]))
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	_, err := Parse("nothing useful")
	require.Error(t, err)

	_, err = Parse(`{"forms": {"name": "x"}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forms")
}

func TestAnthropicExtractor_Extract(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", maxInputChars+100)
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == anthropic.DefaultExpensiveModel &&
			len(r.Messages) == 1 &&
			len(r.Messages[0].Content) < maxInputChars+200
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: reply}},
	}, nil)

	res, err := NewAnthropic(client, "").Extract(context.Background(), "https://a.gov/permits", long)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count())
}

func TestAnthropicExtractor_Error(t *testing.T) {
	t.Parallel()

	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	_, err := NewAnthropic(client, "m").Extract(context.Background(), "https://a.gov", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://a.gov")
}
