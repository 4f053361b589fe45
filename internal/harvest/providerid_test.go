package harvest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractProviderID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		url    string
		want   string
		wantOK bool
	}{
		{"doctor profile", "https://www.opencare.com/dentists/new-york-ny/dr-jane-doe-48213/", "48213", true},
		{"letter suffix", "https://www.opencare.com/dentists/chicago-il/smile-clinic-9917b/", "9917", true},
		{"trailing segment wins", "https://www.opencare.com/offices-2020/dr-li-77/", "77", true},
		{"with query", "https://www.opencare.com/dr-a-5/?ref=sitemap", "5", true},
		{"no trailing slash", "https://www.opencare.com/dentists/dr-jane-doe-48213", "", false},
		{"no number", "https://www.opencare.com/dentists/new-york-ny/", "", false},
		{"uppercase suffix", "https://www.opencare.com/dr-a-123B/", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractProviderID(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTask(t *testing.T) {
	t.Parallel()

	task, err := NewTask("  https://www.opencare.com/dentists/dr-jane-doe-48213/ \n")
	require.NoError(t, err)
	assert.Equal(t, "https://www.opencare.com/dentists/dr-jane-doe-48213/", task.URL)
	assert.Equal(t, "48213", task.ProviderID)
	assert.Zero(t, task.Attempts)

	_, err = NewTask("https://www.opencare.com/about/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnparseableURL))
}

func TestTransientError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := error(&TransientError{Stage: StageDocument, URL: "https://x.test/a-1/", Err: cause})
	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "document https://x.test/a-1/")

	statusOnly := &TransientError{Stage: StageRecord, URL: "https://api.test", StatusCode: 503}
	assert.Equal(t, "record https://api.test: status 503", statusOnly.Error())
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestOutcomeKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "invalid_input", OutcomeInvalidInput.String())
	assert.Equal(t, "exhausted", OutcomeExhausted.String())
	assert.Equal(t, "canceled", OutcomeCanceled.String())
	assert.True(t, Outcome{Kind: OutcomeSuccess}.Succeeded())
	assert.False(t, Outcome{Kind: OutcomeExhausted}.Succeeded())
}
