package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const finalPayload = `{"task":"DN50","processes":[{"process_id":1,"name":"Load","steps":[{"step_id":1,"unit":"U1","device":"Zu20","action":"pick"}]},{"process_id":2,"name":"Spring","steps":[]}]}`

func TestSentinel_Extract(t *testing.T) {
	s := DefaultSentinel()

	t.Run("absent", func(t *testing.T) {
		_, ok := s.Extract(`{"processes":[]}`)
		assert.False(t, ok)
	})

	t.Run("start only", func(t *testing.T) {
		_, ok := s.Extract(DefaultStartMarker + "\n" + finalPayload)
		assert.False(t, ok)
	})

	t.Run("end before start", func(t *testing.T) {
		_, ok := s.Extract(DefaultEndMarker + "\n" + finalPayload + "\n" + DefaultStartMarker)
		assert.False(t, ok)
	})

	t.Run("trimmed payload", func(t *testing.T) {
		buf := "noise\n" + DefaultStartMarker + "\n\n  " + finalPayload + "  \n" + DefaultEndMarker + "\n"
		payload, ok := s.Payload(buf)
		require.True(t, ok)
		assert.Equal(t, finalPayload, payload)

		plan, ok := s.Extract(buf)
		require.True(t, ok)
		assert.Equal(t, "DN50", plan.Task)
		assert.Len(t, plan.Processes, 2)
	})

	t.Run("malformed payload falls through", func(t *testing.T) {
		buf := DefaultStartMarker + "\n{\"processes\": [\n" + DefaultEndMarker
		_, ok := s.Extract(buf)
		assert.False(t, ok)
	})

	t.Run("non-object payload falls through", func(t *testing.T) {
		_, ok := s.Extract(DefaultStartMarker + "[1,2]" + DefaultEndMarker)
		assert.False(t, ok)
	})

	t.Run("payload without processes falls through", func(t *testing.T) {
		partial := `{"processes":[{"process_id":1,"name":"Load","steps":[]}]}`
		buf := partial + "\n" + DefaultStartMarker + "\n" + `{"status":"ok"}` + "\n" + DefaultEndMarker + "\n"
		_, ok := s.Extract(buf)
		assert.False(t, ok)

		_, ok = s.Extract(DefaultStartMarker + `{"processes":null}` + DefaultEndMarker)
		assert.False(t, ok)

		plan, ok := NewScanner().Last(buf)
		require.True(t, ok, "the scanned partial is still available")
		assert.Equal(t, ID("1"), plan.Processes[0].ProcessID)
	})

	t.Run("custom markers", func(t *testing.T) {
		c := Sentinel{Start: "<<", End: ">>"}
		plan, ok := c.Extract("<<" + finalPayload + ">>")
		require.True(t, ok)
		assert.Len(t, plan.Processes, 2)
	})

	t.Run("empty markers disable extraction", func(t *testing.T) {
		_, ok := Sentinel{}.Extract(finalPayload)
		assert.False(t, ok)
	})
}

func TestSentinel_PrecedenceOverScan(t *testing.T) {
	// A later structurally complete snapshot must not beat the sentinel.
	partial := `{"processes":[{"process_id":1,"name":"Load","steps":[]}]}`
	decoy := `{"processes":[{"process_id":9,"name":"Decoy","steps":[{"step_id":1}]}]}`
	buf := partial + "\n" + DefaultStartMarker + "\n" + finalPayload + "\n" + DefaultEndMarker + "\n" + decoy + "\n"

	want, err := DecodePlan(finalPayload)
	require.NoError(t, err)

	plan, ok := DefaultSentinel().Extract(buf)
	require.True(t, ok)
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Errorf("sentinel result mismatch (-want +got):\n%s", diff)
	}
	res := FromSentinel(plan)
	assert.Equal(t, KindComplete, res.Kind, "sentinel payload is complete even with a step-less process")
	assert.Equal(t, SourceSentinel, res.Source)
}
